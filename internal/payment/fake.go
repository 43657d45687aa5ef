package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/hackgods/slot-booking/internal/config"
)

// FakeGateway issues deterministic intents without leaving the process. It
// backs local development and the simulator, which then posts generic
// notifications for the returned refs.
type FakeGateway struct {
	checkoutURL string

	mu   sync.Mutex
	fail error
}

func NewFakeGateway(checkoutURL string) *FakeGateway {
	return &FakeGateway{checkoutURL: strings.TrimRight(checkoutURL, "/")}
}

// FailWith makes subsequent CreateIntent calls return err. A nil err
// restores normal behaviour.
func (g *FakeGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

func (g *FakeGateway) Name() string { return config.PaymentProviderFake }

func (g *FakeGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	g.mu.Lock()
	err := g.fail
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ref := "fake_pref_" + req.AppointmentID.String()
	return &Intent{Ref: ref, RedirectURL: g.checkoutURL + "/" + ref}, nil
}
