package sync

import (
	"context"
	"fmt"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/sync_repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type mappingCacheKey struct {
	workspace  domain.WorkspaceID
	provider   domain.Provider
	objectType domain.ObjectType
}

// FieldMapper translates canonical local field names and picklist values to
// a provider's vocabulary and back.  The mapping configuration is externally
// owned and changes rarely, so reads go through a small expiring cache.
type FieldMapper struct {
	store sync_repository.FieldMappingStore
	cache *expirable.LRU[mappingCacheKey, domain.FieldMapping]
}

func NewFieldMapper(cfg *config.Config, store sync_repository.FieldMappingStore) *FieldMapper {
	return &FieldMapper{
		store: store,
		cache: expirable.NewLRU[mappingCacheKey, domain.FieldMapping](cfg.FieldMappingCacheSize, nil, cfg.FieldMappingCacheTTL),
	}
}

func (fm *FieldMapper) mapping(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType) (domain.FieldMapping, error) {

	key := mappingCacheKey{workspace: workspace, provider: provider, objectType: objectType}

	if cached, ok := fm.cache.Get(key); ok {
		metrics.fieldMappingCacheHitCounter.Inc()
		return cached, nil
	}

	mapping, err := fm.store.Get(ctx, workspace, provider, objectType)
	if err != nil {
		return mapping, err
	}

	fm.cache.Add(key, mapping)
	metrics.fieldMappingCacheMissCounter.Inc()

	return mapping, nil
}

// ToProvider maps canonical local fields to the provider's field names,
// translating picklist values along the way.  Fields with no mapping entry
// are dropped rather than leaked to the provider raw.
func (fm *FieldMapper) ToProvider(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, fields map[string]interface{}) (map[string]interface{}, error) {

	mapping, err := fm.mapping(ctx, workspace, provider, objectType)
	if err != nil {
		return nil, fmt.Errorf("unable to load field mapping: %w", err)
	}

	mapped := make(map[string]interface{})
	for localName, value := range fields {
		providerName, ok := mapping.Mapping[localName]
		if !ok {
			continue
		}

		if translations, ok := mapping.PicklistTranslation[localName]; ok {
			if stringValue, ok := value.(string); ok {
				if translated, ok := translations[stringValue]; ok {
					value = translated
				}
			}
		}

		mapped[providerName] = value
	}

	return mapped, nil
}

// ToLocal maps provider fields back to canonical local names, reversing the
// picklist translation.
func (fm *FieldMapper) ToLocal(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, fields map[string]interface{}) (map[string]interface{}, error) {

	mapping, err := fm.mapping(ctx, workspace, provider, objectType)
	if err != nil {
		return nil, fmt.Errorf("unable to load field mapping: %w", err)
	}

	reverse := make(map[string]string, len(mapping.Mapping))
	for localName, providerName := range mapping.Mapping {
		reverse[providerName] = localName
	}

	mapped := make(map[string]interface{})
	for providerName, value := range fields {
		localName, ok := reverse[providerName]
		if !ok {
			continue
		}

		if translations, ok := mapping.PicklistTranslation[localName]; ok {
			if stringValue, ok := value.(string); ok {
				for localValue, providerValue := range translations {
					if providerValue == stringValue {
						value = localValue
						break
					}
				}
			}
		}

		mapped[localName] = value
	}

	return mapped, nil
}
