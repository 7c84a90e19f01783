// Package adhoc announces this instance to a registration server with periodic heartbeats.
package adhoc

import (
	"context"
	"fmt"
	"net"
	"time"

	"AniObjCut/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Second

type RegisterRequest struct {
	Id        string   `json:"id"`
	IP        string   `json:"ip"`
	Port      int      `json:"port"`
	Types     []string `json:"types"`
	TimeStamp int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type Announcer struct {
	id       string
	url      string
	ip       string
	port     int
	types    []string
	interval time.Duration
	client   *resty.Client
}

// NewAnnouncer targets http://regHost:regPort/api/register and advertises ip:port serving types.
func NewAnnouncer(regHost string, regPort int, ip string, port int, types []string) *Announcer {
	return &Announcer{
		id:       uuid.NewString(),
		url:      fmt.Sprintf("http://%s/api/register", net.JoinHostPort(regHost, fmt.Sprint(regPort))),
		ip:       ip,
		port:     port,
		types:    types,
		interval: DefaultInterval,
		client:   resty.New().SetTimeout(DefaultInterval),
	}
}

func (a *Announcer) ID() string { return a.id }

// SetInterval changes the heartbeat period. Non-positive values are ignored.
func (a *Announcer) SetInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
		a.client.SetTimeout(d)
	}
}

// Run sends one heartbeat immediately and then one per interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.safeSend(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("announcer stopped", zap.String("id", a.id))
			return
		case <-ticker.C:
			a.safeSend(ctx)
		}
	}
}

func (a *Announcer) safeSend(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("heartbeat panic recovered: %v", r))
		}
	}()
	if _, err := a.Send(ctx); err != nil && ctx.Err() == nil {
		logger.Log().Warn("heartbeat failed", zap.String("url", a.url), zap.Error(err))
	}
}

// Send posts a single heartbeat.
func (a *Announcer) Send(ctx context.Context) (RegisterResponse, error) {
	var respBody RegisterResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(RegisterRequest{
			Id:        a.id,
			IP:        a.ip,
			Port:      a.port,
			Types:     a.types,
			TimeStamp: time.Now().Unix(),
		}).
		SetResult(&respBody).
		Post(a.url)
	if err != nil {
		return respBody, fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return respBody, fmt.Errorf("register server returned %s: %s", resp.Status(), resp.String())
	}
	return respBody, nil
}

// OutboundIP is the local address used to reach the internet, or 127.0.0.1 when offline.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
