// Package notify は書き出したスナップショットを外部へ通知する。
// 礼拝所の表示端末はMQTTのretainedメッセージを購読し、起動直後でも最新の時刻表を受け取る。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hitoshi/prayersync/internal/model"
)

const (
	publishQoS        = 1
	disconnectQuiesce = 250 // ミリ秒
	connectTimeout    = 10 * time.Second
	publishTimeout    = 10 * time.Second
)

// Notifier はスナップショットの通知先。
type Notifier interface {
	Publish(ctx context.Context, schedule *model.PrayerSchedule) error
	Close()
}

// NopNotifier は何もしないNotifier。MQTTが未設定の場合に使う。
type NopNotifier struct{}

// Publish はNotifierインターフェースを実装する。
func (NopNotifier) Publish(context.Context, *model.PrayerSchedule) error { return nil }

// Close はNotifierインターフェースを実装する。
func (NopNotifier) Close() {}

// mqttPublisher はMQTTPublisherが使うmqtt.Clientのサブセット。
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTOptions はMQTTブローカーへの接続設定。
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

// MQTTPublisher はスナップショットをretainedメッセージとしてMQTTに発行する。
type MQTTPublisher struct {
	client  mqttPublisher
	topic   string
	logger  *slog.Logger
	timeout time.Duration
}

// NewMQTTPublisher はブローカーに接続してMQTTPublisherを生成する。
func NewMQTTPublisher(logger *slog.Logger, opts MQTTOptions) (*MQTTPublisher, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTTブローカーに接続しました", slog.String("broker", opts.BrokerURL))
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTTブローカーとの接続が切れました", slog.String("error", err.Error()))
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("MQTTブローカーへの接続がタイムアウトしました: %s", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTTブローカーへの接続に失敗しました: %w", err)
	}

	return newMQTTPublisher(client, opts.Topic, logger), nil
}

func newMQTTPublisher(client mqttPublisher, topic string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, logger: logger, timeout: publishTimeout}
}

// Publish はスナップショットのJSONをretainedで発行し、ブローカーの確認を待つ。
// 確認待ちは最大 publishTimeout で打ち切る（再接続中はQoS 1の確認が返らないことがある）。
func (p *MQTTPublisher) Publish(ctx context.Context, schedule *model.PrayerSchedule) error {
	payload, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("通知ペイロードのエンコードに失敗しました: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token := p.client.Publish(p.topic, publishQoS, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("MQTTへの発行を中断しました: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTTへの発行に失敗しました: %w", err)
	}

	p.logger.Info("スナップショットをMQTTに発行しました",
		slog.String("topic", p.topic),
		slog.String("status", string(schedule.Status)),
	)
	return nil
}

// Close はブローカーから切断する。
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
