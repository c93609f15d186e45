package bot

import (
	"context"
	"errors"
	"testing"

	"groupkeeper/internal/chat"
	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/settings"
)

type unavailableSettings struct {
	repo.Repository
}

func (unavailableSettings) GetSettings(context.Context) (*repo.Settings, error) {
	return nil, errors.New("database unavailable")
}

func TestVoucherReplyWithoutSettings(t *testing.T) {
	h := newHarness(t, 1)
	// The ledger keeps its working store; only the reply's price lookup fails.
	h.engine.settings = settings.New(unavailableSettings{h.repo}, logging.Discard())

	h.engine.cmdBuyVoucher(context.Background(), chat.Message{ChatID: groupID, From: user(5), Text: "/voucher"})

	if h.messenger.sentContaining("costs 0 points") {
		t.Fatalf("reply must not quote a zero price when settings are unavailable")
	}
	if !h.messenger.sentContaining("not enough points for a voucher") {
		t.Fatalf("expected a generic insufficient funds reply")
	}
}

func TestVoucherReplyQuotesPrice(t *testing.T) {
	h := newHarness(t, 1)
	h.engine.cmdBuyVoucher(context.Background(), chat.Message{ChatID: groupID, From: user(5), Text: "/voucher"})
	if !h.messenger.sentContaining("a voucher costs 500 points") {
		t.Fatalf("expected the configured voucher price in the reply")
	}
}
