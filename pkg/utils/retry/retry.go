package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

// Action defines the prototype of action function, function as a value
type Action func(attempt uint) error

// Model defines the schema, contains all the attributes needed for retry
type Model struct {
	retry    uint
	waitTime time.Duration
	backoff  float64
	ctx      context.Context
}

// Times is used to define the retry count
// it will run if the instance of model is not present before
func Times(retry uint) *Model {
	model := Model{}
	return model.Times(retry)
}

// Times is used to define the retry count
// it will run if the instance of model is already present
func (model *Model) Times(retry uint) *Model {
	model.retry = retry
	return model
}

// Wait is used to define the wait duration after each iteration of retry
// it will run if the instance of model is not present before
func Wait(waitTime time.Duration) *Model {
	model := Model{}
	return model.Wait(waitTime)
}

// Wait is used to define the wait duration after each iteration of retry
// it will run if the instance of model is already present
func (model *Model) Wait(waitTime time.Duration) *Model {
	model.waitTime = waitTime
	return model
}

// Backoff multiplies the wait duration by the given factor after every
// failed attempt, factor <= 1 leaves the wait duration fixed
func (model *Model) Backoff(factor float64) *Model {
	model.backoff = factor
	return model
}

// WithContext makes the retry loop abort between attempts once ctx is done
func (model *Model) WithContext(ctx context.Context) *Model {
	model.ctx = ctx
	return model
}

// Try is used to run an action with retries and some delay after each iteration
func (model Model) Try(action Action) error {
	if action == nil {
		return fmt.Errorf("no action specified")
	}

	wait := model.waitTime
	var err error
	for attempt := uint(0); (attempt == 0 || err != nil) && attempt < model.retry; attempt++ {
		err = action(attempt)
		if err == nil {
			break
		}
		// semantic rejections are never retried
		switch cerrors.GetErrorType(err) {
		case cerrors.ErrorTypeValidation, cerrors.ErrorTypeConflict, cerrors.ErrorTypeNotFound,
			cerrors.ErrorTypeInvalidCron, cerrors.ErrorTypePlatformPermanent:
			return err
		}
		if attempt+1 >= model.retry {
			break
		}
		if wait > 0 {
			if sleepErr := model.sleep(wait); sleepErr != nil {
				return sleepErr
			}
		}
		if model.backoff > 1 {
			wait = time.Duration(float64(wait) * model.backoff)
		}
	}

	return err
}

// sleep waits for the backoff interval, honoring context cancellation
func (model Model) sleep(wait time.Duration) error {
	if model.ctx == nil {
		time.Sleep(wait)
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-model.ctx.Done():
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Reason: "retry aborted, " + model.ctx.Err().Error()}
	}
}
