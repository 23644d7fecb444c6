// Package delivery sends daily reading fragments to users.
package delivery

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"readfeed/internal/model"
)

// Deliverer pushes one reading fragment to one user. Implementations may
// send to a chat platform, an email gateway, or anything else addressable
// by the user's external ID.
type Deliverer interface {
	Deliver(ctx context.Context, user model.User, fragment *model.FragmentView) error
}

// LogDeliverer writes each fragment as a JSON line. It is the default sink
// when no outbound channel is configured, and doubles as an audit trail.
type LogDeliverer struct {
	out io.Writer
	now func() time.Time
}

// NewLogDeliverer returns a deliverer writing JSON lines to out.
func NewLogDeliverer(out io.Writer) *LogDeliverer {
	return &LogDeliverer{out: out, now: time.Now}
}

type deliveryRecord struct {
	Timestamp       string `json:"ts"`
	Level           string `json:"level"`
	Component       string `json:"component"`
	Event           string `json:"event"`
	ExternalID      string `json:"external_id"`
	Filename        string `json:"filename"`
	ProgressPercent int    `json:"progress_percent"`
	IsFinal         bool   `json:"is_final"`
	Fragment        string `json:"fragment"`
}

func (d *LogDeliverer) Deliver(_ context.Context, user model.User, fragment *model.FragmentView) error {
	rec := deliveryRecord{
		Timestamp:       d.now().UTC().Format(time.RFC3339Nano),
		Level:           "info",
		Component:       "delivery",
		Event:           "fragment_delivered",
		ExternalID:      user.ExternalID,
		Filename:        fragment.Filename,
		ProgressPercent: fragment.ProgressPercent,
		IsFinal:         fragment.IsFinal,
		Fragment:        fragment.Fragment,
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	_, err = d.out.Write(b)
	return err
}
