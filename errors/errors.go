package errors

import "fmt"

var (
	ErrWorkerPanic           = fmt.Errorf("worker panic")
	ErrReloadInFlight        = fmt.Errorf("reload already in progress")
	ErrSessionNotEstablished = fmt.Errorf("session was never established")
	ErrInvalidCronSpec       = fmt.Errorf("invalid cron spec")
)
