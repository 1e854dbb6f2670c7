package outbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

func TestPayloadEnvelopeCarriesActorRole(t *testing.T) {
	actor := &ActorRef{UserID: uuid.New(), Role: enums.RoleJobGiver}
	raw, err := json.Marshal(PayloadEnvelope{Version: 1, EventID: uuid.NewString(), Actor: actor})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded struct {
		Actor struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		} `json:"actor"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.Actor.Role != string(enums.RoleJobGiver) {
		t.Fatalf("expected role %q, got %q", enums.RoleJobGiver, decoded.Actor.Role)
	}
	if decoded.Actor.UserID != actor.UserID.String() {
		t.Fatalf("expected user %s, got %s", actor.UserID, decoded.Actor.UserID)
	}
}
