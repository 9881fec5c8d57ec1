package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// EnrollmentsPubSub fans out enrollment changes so other instances can drop
// their cached availability counters.
type EnrollmentsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewEnrollmentsPubSub(rdb *redis.Client) *EnrollmentsPubSub {
	return &EnrollmentsPubSub{
		rdb:     rdb,
		channel: ChannelEnrollmentsChanged(),
	}
}

type enrollmentChangedMsg struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	TsUnix    int64  `json:"ts_unix"`
}

func (p *EnrollmentsPubSub) PublishEnrollmentChanged(ctx context.Context, projectID string) error {
	msg := enrollmentChangedMsg{
		Type:      "enrollment_changed",
		ProjectID: projectID,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *EnrollmentsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, projectID string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev enrollmentChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.ProjectID != "" {
				handler(ctx, ev.ProjectID)
			}
		}
	}
}
