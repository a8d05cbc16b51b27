package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

func TestTry_ActionSucceedsImmediately(t *testing.T) {
	model := Times(3).Wait(0)

	calls := 0
	err := model.Try(func(attempt uint) error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestTry_ActionFailsThenSucceeds(t *testing.T) {
	model := Times(3).Wait(0)

	calls := 0
	err := model.Try(func(attempt uint) error {
		calls++
		if attempt < 1 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestTry_ActionAlwaysFails(t *testing.T) {
	model := Times(3).Wait(0)

	calls := 0
	err := model.Try(func(attempt uint) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Error("expected error, got nil")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestTry_PermanentErrorNotRetried(t *testing.T) {
	model := Times(5).Wait(0)

	calls := 0
	err := model.Try(func(attempt uint) error {
		calls++
		return cerrors.Error{ErrorCode: cerrors.ErrorTypePlatformPermanent, Reason: "malformed resource"}
	})
	if err == nil {
		t.Error("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestTry_ConflictNotRetried(t *testing.T) {
	calls := 0
	err := Times(5).Wait(0).Try(func(attempt uint) error {
		calls++
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeConflict, Reason: "active run exists"}
	})
	if err == nil || calls != 1 {
		t.Errorf("expected single failed call, got calls=%d err=%v", calls, err)
	}
}

func TestTry_BackoffGrowsWait(t *testing.T) {
	start := time.Now()
	_ = Times(3).Wait(10 * time.Millisecond).Backoff(2).Try(func(attempt uint) error {
		return errors.New("fail")
	})
	// waits 10ms then 20ms between the three attempts
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected at least 30ms of backoff, got %v", elapsed)
	}
}

func TestTry_ContextCancelAbortsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Times(3).Wait(50 * time.Millisecond).WithContext(ctx).Try(func(attempt uint) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Error("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestTry_NilAction(t *testing.T) {
	if err := Times(2).Try(nil); err == nil {
		t.Error("expected error for nil action, got nil")
	}
}
