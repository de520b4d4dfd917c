package convert

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gt-lab/internal/model"
)

func TestToUserView_DropsSecret(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	p := model.Principal{
		ID: id, Kind: model.KindUser, Email: "u@x.com", Secret: "hunter2",
		FirstName: "U", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600)),
	}
	v := ToUserView(p)
	if v.ID != id.String() || v.Email != "u@x.com" || v.CreatedAt.Location() != time.UTC {
		t.Fatalf("bad view: %+v", v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "hunter2") {
		t.Fatalf("secret leaked: %s", b)
	}
}

func TestToUserViews_EmptyIsList(t *testing.T) {
	t.Parallel()
	b, _ := json.Marshal(ToUserViews(nil))
	if string(b) != "[]" {
		t.Fatalf("want [], got %s", b)
	}
}

func TestTokenViews(t *testing.T) {
	t.Parallel()
	tok := model.IssuedToken{Value: "v", TTLMillis: 3600000}
	if got := ToAccessTokenView(tok); got.AccessToken != "v" || got.TTL != 3600000 {
		t.Fatalf("bad access view: %+v", got)
	}
	if got := ToRegistrationView(tok); got.RegistrationToken != "v" || got.TTL != 3600000 {
		t.Fatalf("bad registration view: %+v", got)
	}
}
