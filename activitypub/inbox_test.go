package activitypub

import (
	"bytes"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SamR1/fittrackee-federation/util"
)

// gatewayFixture extends the dispatcher fixture with a gateway whose
// inbox queue collects payloads instead of dispatching them.
type gatewayFixture struct {
	*fixture
	gateway *Gateway

	mu     sync.Mutex
	queued [][]byte

	remoteKeys *util.RsaKeyPair
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := newFixture(t)

	gf := &gatewayFixture{fixture: f}

	// the remote actor's stored public key must match the key used to
	// sign test requests
	gf.remoteKeys = util.GeneratePemKeypair()
	f.remoteActor.PublicKey = gf.remoteKeys.Public
	if err := f.database.UpdateActor(f.remoteActor); err != nil {
		t.Fatalf("UpdateActor failed: %v", err)
	}

	queues := NewQueues()
	queues.Register(QueueInbox, 1, 16, func(payload []byte) error {
		gf.mu.Lock()
		gf.queued = append(gf.queued, payload)
		gf.mu.Unlock()
		return nil
	})
	t.Cleanup(queues.Stop)

	directory := NewDirectory(f.database, f.dispatcher.conf)
	gf.gateway = NewGateway(f.database, f.dispatcher.conf, directory, queues)
	return gf
}

func (gf *gatewayFixture) queuedCount() int {
	gf.mu.Lock()
	defer gf.mu.Unlock()
	return len(gf.queued)
}

// signedInboxRequest builds a correctly signed POST to the shared inbox.
func (gf *gatewayFixture) signedInboxRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://example.com/federation/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", ComputeDigest(body))

	privateKey, err := ParsePrivateKey(gf.remoteKeys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if err := SignRequest(req, privateKey, gf.remoteActor.KeyId()); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func TestGatewayReceiveValidRequest(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(gf.followActivity())

	req := gf.signedInboxRequest(t, body)
	if err := gf.gateway.Receive(req, body, ""); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	// enqueue is synchronous, only the handler runs in the worker
	deadline := time.Now().Add(time.Second)
	for gf.queuedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if gf.queuedCount() != 1 {
		t.Errorf("queued = %d, want 1", gf.queuedCount())
	}
}

func TestGatewayReceiveInvalidPayload(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(`not json at all`)

	// payload validation comes first, no signature needed to get a 400
	req, _ := http.NewRequest("POST", "https://example.com/federation/inbox", bytes.NewReader(body))
	if err := gf.gateway.Receive(req, body, ""); err != ErrInvalidActivity {
		t.Errorf("Receive = %v, want ErrInvalidActivity", err)
	}
}

func TestGatewayReceiveMissingObject(t *testing.T) {
	gf := newGatewayFixture(t)

	// shape validation rejects the payload before any signature work,
	// even a correctly signed activity without an object never reaches
	// the queue
	body := []byte(`{"type":"Follow","actor":"https://remote.social/users/bob"}`)
	req := gf.signedInboxRequest(t, body)
	if err := gf.gateway.Receive(req, body, ""); err != ErrInvalidActivity {
		t.Errorf("Receive = %v, want ErrInvalidActivity", err)
	}
	if gf.queuedCount() != 0 {
		t.Errorf("queued = %d, want 0", gf.queuedCount())
	}
}

func TestGatewayReceiveUnsupportedType(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(`{"type":"Like","actor":"https://remote.social/users/bob","object":"x"}`)

	req, _ := http.NewRequest("POST", "https://example.com/federation/inbox", bytes.NewReader(body))
	err := gf.gateway.Receive(req, body, "")
	if _, ok := err.(*UnsupportedActivityError); !ok {
		t.Errorf("Receive = %v, want UnsupportedActivityError", err)
	}
}

func TestGatewayReceiveMissingSignature(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(gf.followActivity())

	req, _ := http.NewRequest("POST", "https://example.com/federation/inbox", bytes.NewReader(body))
	if err := gf.gateway.Receive(req, body, ""); err != ErrMissingSignature {
		t.Errorf("Receive = %v, want ErrMissingSignature", err)
	}
}

func TestGatewayReceiveStaleDate(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(gf.followActivity())

	req := gf.signedInboxRequest(t, body)
	req.Header.Set("Date", time.Now().Add(-5*time.Minute).UTC().Format(http.TimeFormat))
	if err := gf.gateway.Receive(req, body, ""); err != ErrDateTooFar {
		t.Errorf("Receive = %v, want ErrDateTooFar", err)
	}
}

func TestGatewayReceiveTamperedBody(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(gf.followActivity())

	req := gf.signedInboxRequest(t, body)
	tampered := []byte(gf.followActivity())
	tampered[len(tampered)-2] = ' '
	if err := gf.gateway.Receive(req, tampered, ""); err != ErrDigestMismatch {
		t.Errorf("Receive = %v, want ErrDigestMismatch", err)
	}
}

func TestGatewayReceiveKeyOwnerMismatch(t *testing.T) {
	gf := newGatewayFixture(t)

	// activity claims a different actor than the signing key owner
	body := []byte(`{
		"type": "Follow",
		"actor": "https://remote.social/users/mallory",
		"object": "https://example.com/federation/user/alice"
	}`)
	req := gf.signedInboxRequest(t, body)
	if err := gf.gateway.Receive(req, body, ""); err != ErrInvalidSignature {
		t.Errorf("Receive = %v, want ErrInvalidSignature", err)
	}
}

func TestGatewayReceiveWrongSignature(t *testing.T) {
	gf := newGatewayFixture(t)
	body := []byte(gf.followActivity())

	// sign with a key the stored actor does not own
	otherKeys := util.GeneratePemKeypair()
	privateKey, _ := ParsePrivateKey(otherKeys.Private)
	req, _ := http.NewRequest("POST", "https://example.com/federation/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", ComputeDigest(body))
	if err := SignRequest(req, privateKey, gf.remoteActor.KeyId()); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if err := gf.gateway.Receive(req, body, ""); err != ErrInvalidSignature {
		t.Errorf("Receive = %v, want ErrInvalidSignature", err)
	}
}
