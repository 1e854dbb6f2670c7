package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/logger"
)

const publishTimeout = 10 * time.Second

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// codeMessage is the wire shape delivery workers consume. The engine never
// talks to SMS or email providers directly.
type codeMessage struct {
	Type        string    `json:"type"`
	JobID       uuid.UUID `json:"job_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Code        string    `json:"code"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Notifier hands proof-of-presence codes to the external delivery channel.
// Every call is fire-and-forget: a publish failure logs and the lifecycle
// transition that issued the code stands.
type Notifier struct {
	pub  publisher
	logg *logger.Logger
	now  func() time.Time
}

func NewNotifier(pub publisher, logg *logger.Logger) (*Notifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{pub: pub, logg: logg, now: time.Now}, nil
}

// StartCodeIssued delivers the on-site start code to the job giver.
func (n *Notifier) StartCodeIssued(ctx context.Context, jobID, giverID uuid.UUID, code string) {
	n.publish(ctx, codeMessage{
		Type:        "start_code_issued",
		JobID:       jobID,
		RecipientID: giverID,
		Code:        code,
		IssuedAt:    n.now().UTC(),
	})
}

// CompletionCodeIssued delivers the completion code to the job giver.
func (n *Notifier) CompletionCodeIssued(ctx context.Context, jobID, giverID uuid.UUID, code string) {
	n.publish(ctx, codeMessage{
		Type:        "completion_code_issued",
		JobID:       jobID,
		RecipientID: giverID,
		Code:        code,
		IssuedAt:    n.now().UTC(),
	})
}

func (n *Notifier) publish(ctx context.Context, msg codeMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logg.Error(ctx, "encode code delivery", err)
		return
	}

	// Detach from the request context so an aborted request does not drop
	// the delivery.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	result := n.pub.Publish(pubCtx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":   msg.Type,
			"job_id": msg.JobID.String(),
		},
	})

	go func() {
		defer cancel()
		if _, err := result.Get(pubCtx); err != nil {
			logCtx := n.logg.WithJobID(pubCtx, msg.JobID.String())
			n.logg.Error(logCtx, "code delivery publish failed", err)
		}
	}()
}
