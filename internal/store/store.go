// Package store holds the injected repositories for policies, rules, threats, plans
// and maintenance tasks. The memory implementation backs tests and single-node runs;
// the badger implementation survives restarts.
package store

import (
	"context"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Repository persists values of one entity type by id. Get returns an error wrapping
// utils.ErrUnknownEntity for a missing id. Values are copies; callers own them.
type Repository[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	Put(ctx context.Context, id string, value T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
}

// Repositories groups one repository per entity type.
type Repositories struct {
	Policies Repository[models.SelfHealingPolicy]
	Rules    Repository[models.ResponseRule]
	Threats  Repository[models.Threat]
	Plans    Repository[models.ResponsePlan]
	Tasks    Repository[models.MaintenanceTask]
}

// NewMemoryRepositories returns in-process repositories for every entity type.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Policies: NewMemory[models.SelfHealingPolicy]("policy"),
		Rules:    NewMemory[models.ResponseRule]("rule"),
		Threats:  NewMemory[models.Threat]("threat"),
		Plans:    NewMemory[models.ResponsePlan]("plan"),
		Tasks:    NewMemory[models.MaintenanceTask]("task"),
	}
}
