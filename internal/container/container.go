package container

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/qmsforge/riskflow/internal/application/service"
	"github.com/qmsforge/riskflow/internal/authz"
	"github.com/qmsforge/riskflow/internal/config"
	"github.com/qmsforge/riskflow/internal/infrastructure/worker"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Storage
	storage *StorageBundle

	// Application
	roles    *authz.Table
	approval service.ApprovalManager

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Storage and the audit store
// 2. Role table
// 3. Approval manager
// 4. Maintenance workers (registered only; see StartWorkers)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Starting container initialization",
		zap.String("data_dir", c.config.Storage.DataDir))

	// Step 1: Initialize storage
	storageBundle, err := ProvideStorage(c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.storage = storageBundle
	c.logger.Info("Storage initialized")

	// Step 2: Initialize roles
	roles, err := ProvideRoles(c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize roles: %w", err)
	}
	c.roles = roles

	// Step 3: Initialize application services
	approval, err := ProvideApprovalManager(&ApprovalDeps{
		Config:  c.config,
		Storage: c.storage,
		Roles:   c.roles,
		Logger:  c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.approval = approval
	c.logger.Info("Application services initialized")

	// Step 4: Register workers
	c.workers = ProvideWorkers(c.config, c.storage, c.logger)
	c.logger.Info("Workers registered", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// StartWorkers starts the registered maintenance workers. Long-running
// commands call it after Start; one-shot commands skip it.
func (c *Container) StartWorkers(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.Ready() {
		return fmt.Errorf("container not started")
	}
	return c.workers.StartAll(ctx)
}

// Close shuts the container down. Every append is durable when it returns,
// so there is nothing to flush beyond the workers and the logger.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var closeErr error
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			closeErr = err
		}
	}

	c.approval = nil
	c.closed.Store(true)
	c.ready.Store(false)

	c.logger.Info("Container closed successfully")
	// stderr and stdout return EINVAL on sync
	_ = c.logger.Sync()
	return closeErr
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	// Check storage
	if c.storage != nil {
		dir := c.storage.FileStorage.GetFullPath(c.config.Storage.AuditDir)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			status.Components["storage"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("audit directory unavailable: %s", dir),
			}
			status.Overall = false
		} else {
			status.Components["storage"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["storage"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// Check audit chains
	if c.storage != nil {
		if err := c.storage.AuditStore.VerifyAll(ctx); err != nil {
			status.Components["audit_trail"] = ComponentHealth{
				Healthy: false,
				Message: err.Error(),
			}
			status.Overall = false
		} else {
			status.Components["audit_trail"] = ComponentHealth{Healthy: true}
		}
	}

	// Check services
	if c.approval != nil {
		status.Components["approval"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["approval"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// Check workers
	if c.workers != nil && c.workers.IsRunning() {
		health := ComponentHealth{Healthy: true, Message: fmt.Sprintf("%d running", c.workers.GetWorkerCount())}
		for _, st := range c.workers.Statuses() {
			if st.LastError != "" {
				health = ComponentHealth{Healthy: false, Message: fmt.Sprintf("%s: %s", st.Name, st.LastError)}
				status.Overall = false
				break
			}
		}
		status.Components["workers"] = health
	}

	return status
}

// Getters for accessing container components

// ApprovalManager returns the approval manager.
func (c *Container) ApprovalManager() service.ApprovalManager {
	return c.approval
}

// Workers returns the maintenance worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// ServiceLogger returns the key/value logger handed to services and adapters.
func (c *Container) ServiceLogger() service.Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
