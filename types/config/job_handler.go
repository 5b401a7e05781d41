package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RezaEskandarii/notifire/custom_errors"
	"github.com/RezaEskandarii/notifire/types"
)

// HandlerFunc processes one dequeued job. A non-nil error fails the attempt.
type HandlerFunc func(ctx context.Context, job types.EnqueuedJob) error

type JobHandler struct {
	handlers map[string]HandlerFunc
	mutex    sync.RWMutex
}

func NewJobHandler() *JobHandler {
	return &JobHandler{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a new job handler by name.
func (jh *JobHandler) Register(name string, handler HandlerFunc) error {
	if name == "" || handler == nil {
		return fmt.Errorf("handler must have a job name and function")
	}
	jh.mutex.Lock()
	defer jh.mutex.Unlock()

	if _, exists := jh.handlers[name]; exists {
		return fmt.Errorf("handler '%s' already registered", name)
	}
	jh.handlers[name] = handler
	return nil
}

func (jh *JobHandler) Exists(name string) bool {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	_, exists := jh.handlers[name]
	return exists
}

func (jh *JobHandler) Execute(ctx context.Context, job types.EnqueuedJob) error {
	jh.mutex.RLock()
	handler, exists := jh.handlers[job.Name]
	jh.mutex.RUnlock()
	if !exists {
		return fmt.Errorf("%w: '%s'", custom_errors.ErrHandlerNotFound, job.Name)
	}
	return handler(ctx, job)
}

func (jh *JobHandler) List() []string {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	names := make([]string, 0, len(jh.handlers))
	for name := range jh.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
