package core

import (
	"context"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
)

// Runner executes one firing of a job. Implementations publish the terminal
// lifecycle event themselves and never return an error to the pool; firedAt
// is the trigger boundary being honored, which may lag the wall clock after
// a misfire.
type Runner interface {
	Execute(ctx context.Context, job *model.Job, firedAt time.Time)
}
