package provider

import "fmt"

// ProviderError represents a provider-specific configuration error.
type ProviderError struct {
	Type    ProviderType
	Name    ProviderName
	Message string
}

func (e *ProviderError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s provider: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s provider %q: %s", e.Type, e.Name, e.Message)
}

// ErrUnknownProvider creates an error for an unsupported provider name.
func ErrUnknownProvider(providerType ProviderType, name ProviderName) error {
	return &ProviderError{Type: providerType, Name: name, Message: "unknown provider"}
}

// ErrMissingField creates an error for a required setting that is empty.
func ErrMissingField(providerType ProviderType, name ProviderName, field string) error {
	return &ProviderError{Type: providerType, Name: name, Message: field + " is required"}
}
