package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/logging"
)

// EventAssetSaved 是资产落盘后的事件类型。
const EventAssetSaved = "asset.saved"

const flushTimeout = 2 * time.Second

// Notifier 是外部推送/同步协作方。
//
// 约束：调用方以 fire-and-forget 方式使用，失败只记录，永远不影响已返回的 Asset。
type Notifier interface {
	Notify(ctx context.Context, a domain.Asset) error
}

// Event 是推送出去的 JSON 载荷。
type Event struct {
	Type       string              `json:"type"`
	AssetID    string              `json:"asset_id"`
	Path       string              `json:"path"`
	Resolution string              `json:"resolution"`
	Timestamp  string              `json:"timestamp"`
	Location   *domain.LocationTag `json:"location,omitempty"`
}

// NewEvent 从 Asset 构造事件。
func NewEvent(a domain.Asset) Event {
	rec := a.Record()
	return Event{
		Type:       EventAssetSaved,
		AssetID:    a.ID,
		Path:       rec.Path,
		Resolution: rec.Resolution,
		Timestamp:  rec.Timestamp,
		Location:   rec.Location,
	}
}

// LogNotifier 只把事件写进日志（未配置推送服务时使用）。
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a domain.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logging.OrNop(n.Logger).Info("推送资产事件（log-only）",
		zap.String("asset_id", a.ID),
		zap.String("path", a.Path),
	)
	return nil
}

// NATSNotifier 把事件发布到 NATS subject。
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS 连接 NATS；连接失败直接返回错误（由调用方决定是否退化为 LogNotifier）。
func ConnectNATS(url, subject string, logger *zap.Logger) (*NATSNotifier, error) {
	url = strings.TrimSpace(url)
	subject = strings.TrimSpace(subject)
	if url == "" {
		return nil, errors.New("nats url 不能为空")
	}
	if subject == "" {
		return nil, errors.New("nats subject 不能为空")
	}
	log := logging.OrNop(logger)

	nc, err := nats.Connect(url,
		nats.Name("camtag"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS 连接断开", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败：%w", err)
	}
	return &NATSNotifier{conn: nc, subject: subject}, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, a domain.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewEvent(a))
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("发布到 %q 失败：%w", n.subject, err)
	}
	return n.conn.FlushTimeout(flushTimeout)
}

// Close 先 drain 已缓冲的消息再关闭连接。
func (n *NATSNotifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
