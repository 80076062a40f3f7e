package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "wxharvest"
	keyringAccount = "mp_session"
)

type keyringBackend struct {
	service string
	account string
}

// NewKeyringStore returns a store persisted as one JSON secret in the OS keychain
func NewKeyringStore(service, account string) (Store, error) {
	probe := account + "_probe"
	if err := keyring.Set(service, probe, "ok"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(service, probe)

	return newKV(&keyringBackend{service: service, account: account})
}

func (k *keyringBackend) load() (map[string]string, error) {
	data, err := keyring.Get(k.service, k.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("failed to parse keyring secret: %w", err)
	}
	return values, nil
}

func (k *keyringBackend) persist(values map[string]string) error {
	if len(values) == 0 {
		err := keyring.Delete(k.service, k.account)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keyring: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring secret: %w", err)
	}
	if err := keyring.Set(k.service, k.account, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}
