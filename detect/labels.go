package detect

// Label is one class name emitted by the generic NSFW backend.
type Label = string

const (
	FemaleGenitaliaCovered Label = "FEMALE_GENITALIA_COVERED"
	FaceFemale             Label = "FACE_FEMALE"
	ButtocksExposed        Label = "BUTTOCKS_EXPOSED"
	FemaleBreastExposed    Label = "FEMALE_BREAST_EXPOSED"
	FemaleGenitaliaExposed Label = "FEMALE_GENITALIA_EXPOSED"
	MaleBreastExposed      Label = "MALE_BREAST_EXPOSED"
	AnusExposed            Label = "ANUS_EXPOSED"
	FeetExposed            Label = "FEET_EXPOSED"
	BellyCovered           Label = "BELLY_COVERED"
	FeetCovered            Label = "FEET_COVERED"
	ArmpitsCovered         Label = "ARMPITS_COVERED"
	ArmpitsExposed         Label = "ARMPITS_EXPOSED"
	FaceMale               Label = "FACE_MALE"
	BellyExposed           Label = "BELLY_EXPOSED"
	MaleGenitaliaExposed   Label = "MALE_GENITALIA_EXPOSED"
	AnusCovered            Label = "ANUS_COVERED"
	FemaleBreastCovered    Label = "FEMALE_BREAST_COVERED"
	ButtocksCovered        Label = "BUTTOCKS_COVERED"
)

// Group is a named prefix group over the closed NSFW label set.
type Group string

const (
	GroupNone            Group = ""
	GroupFemaleGenitalia Group = "FEMALE_GENITALIA"
	GroupFemaleBreast    Group = "FEMALE_BREAST"
	GroupArmpits         Group = "ARMPITS"
	GroupFeet            Group = "FEET"
)

// NudeNetLabels is the complete label set of the generic NSFW backend, in the backend's class order.
var NudeNetLabels = []Label{
	FemaleGenitaliaCovered,
	FaceFemale,
	ButtocksExposed,
	FemaleBreastExposed,
	FemaleGenitaliaExposed,
	MaleBreastExposed,
	AnusExposed,
	FeetExposed,
	BellyCovered,
	FeetCovered,
	ArmpitsCovered,
	ArmpitsExposed,
	FaceMale,
	BellyExposed,
	MaleGenitaliaExposed,
	AnusCovered,
	FemaleBreastCovered,
	ButtocksCovered,
}

// Membership is declared per label. A label the backend starts emitting later stays
// outside every group until it is added here.
var labelGroups = map[Label]Group{
	FemaleGenitaliaCovered: GroupFemaleGenitalia,
	FemaleGenitaliaExposed: GroupFemaleGenitalia,
	FemaleBreastExposed:    GroupFemaleBreast,
	FemaleBreastCovered:    GroupFemaleBreast,
	ArmpitsCovered:         GroupArmpits,
	ArmpitsExposed:         GroupArmpits,
	FeetExposed:            GroupFeet,
	FeetCovered:            GroupFeet,
}

// GroupOf reports the prefix group of label. ok is false for labels outside the closed set
// or labels that belong to no group.
func GroupOf(label Label) (g Group, ok bool) {
	g, ok = labelGroups[label]
	return g, ok
}

// InGroup reports whether label is a member of g. Every label is a member of GroupNone.
func InGroup(label Label, g Group) bool {
	if g == GroupNone {
		return true
	}
	got, ok := labelGroups[label]
	return ok && got == g
}

// KnownLabel reports whether label belongs to the closed NSFW label set.
func KnownLabel(label Label) bool {
	for _, l := range NudeNetLabels {
		if l == label {
			return true
		}
	}
	return false
}
