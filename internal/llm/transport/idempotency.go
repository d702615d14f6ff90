package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CurrentCanonicalVersion stamps every canonical payload. Bump it when the
// canonicalization rules change: old cache entries then stop matching instead
// of colliding with keys built under the new rules.
const CurrentCanonicalVersion = "v1.0"

// Canonical payload validation errors.
var (
	ErrTenantIDRequired  = errors.New("tenant_id is required")
	ErrOperationRequired = errors.New("operation is required")
	ErrProviderRequired  = errors.New("provider is required")
	ErrModelRequired     = errors.New("model is required")
	ErrVersionRequired   = errors.New("version is required")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrInvalidProvider   = errors.New("invalid provider")
)

// CanonicalPayload is the normalized form of a logical LLM request and the
// sole input to idempotency key hashing. Two requests that mean the same
// thing must canonicalize byte-identically, whatever whitespace or casing
// they arrived with.
type CanonicalPayload struct {
	TenantID  string             `json:"tenant_id"`
	Operation OperationType      `json:"operation"` // generation|summary
	Provider  string             `json:"provider"`  // lowercased
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []CanonicalMessage `json:"messages,omitempty"`
	Params    map[string]any     `json:"params,omitempty"` // non-default sampling params only
	Seed      *int64             `json:"seed,omitempty"`
	Version   string             `json:"version"`
}

// CanonicalMessage is one normalized conversation turn.
type CanonicalMessage struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// IdemKey is the SHA-256 hex digest of a canonical payload. Equivalent
// requests share a key, which is what makes cache hits and event
// deduplication line up.
type IdemKey string

// BuildCanonicalPayload normalizes req into canonical form: text is
// whitespace-normalized, the provider name lowercased, and only non-default
// sampling parameters are kept so an explicit default does not defeat the
// cache.
func BuildCanonicalPayload(req *Request) (*CanonicalPayload, error) {
	payload := &CanonicalPayload{
		TenantID:  req.TenantID,
		Operation: req.Operation,
		Provider:  strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:     strings.TrimSpace(req.Model),
		Version:   CurrentCanonicalVersion,
	}

	if req.SystemPrompt != "" {
		payload.System = normalizeText(req.SystemPrompt)
	}

	// The system prompt stays in the top-level System field: providers that
	// inline it as a message and providers that pass it as a body field must
	// canonicalize the same way.
	messages := []CanonicalMessage{}
	if req.Prompt != "" {
		messages = append(messages, CanonicalMessage{
			Role:    "user",
			Content: normalizeText(req.Prompt),
		})
	}
	payload.Messages = messages

	params := make(map[string]any)
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != 0.0 {
		params["temperature"] = req.Temperature
	}
	if len(params) > 0 {
		payload.Params = params
	}

	payload.Seed = req.Seed

	return payload, nil
}

// BuildIdemKey hashes the stable JSON serialization of payload.
func BuildIdemKey(payload *CanonicalPayload) (IdemKey, error) {
	jsonBytes, err := stableJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}

	hash := sha256.Sum256(jsonBytes)
	return IdemKey(hex.EncodeToString(hash[:])), nil
}

// GenerateIdemKey canonicalizes req and hashes it in one step.
func GenerateIdemKey(req *Request) (IdemKey, error) {
	payload, err := BuildCanonicalPayload(req)
	if err != nil {
		return "", fmt.Errorf("failed to build canonical payload: %w", err)
	}

	return BuildIdemKey(payload)
}

func (k IdemKey) String() string { return string(k) }

// normalizeText trims, converts CRLF to LF, and collapses whitespace runs so
// cosmetically different prompts hash the same.
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return collapseSpaces(text)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stableJSON serializes v with every map's keys sorted. encoding/json already
// sorts map keys, but only at the top level of each map value; the round trip
// through sortKeys guarantees nested structures come out deterministic too.
func stableJSON(v any) ([]byte, error) {
	tempJSON, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var normalized any
	if err := json.Unmarshal(tempJSON, &normalized); err != nil {
		return nil, err
	}

	return json.Marshal(sortKeys(normalized))
}

// sortKeys rebuilds v with sorted map keys, recursing through nested maps
// and slices.
func sortKeys(v any) any {
	switch v := v.(type) {
	case map[string]any:
		sorted := make(map[string]any)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sorted[k] = sortKeys(v[k])
		}
		return sorted

	case []any:
		sorted := make([]any, len(v))
		for i, elem := range v {
			sorted[i] = sortKeys(elem)
		}
		return sorted

	default:
		return v
	}
}

// ValidateCanonicalPayload rejects payloads missing required fields or naming
// an operation or provider this system does not run.
func ValidateCanonicalPayload(payload *CanonicalPayload) error {
	if payload.TenantID == "" {
		return ErrTenantIDRequired
	}
	if payload.Operation == "" {
		return ErrOperationRequired
	}
	if payload.Provider == "" {
		return ErrProviderRequired
	}
	if payload.Model == "" {
		return ErrModelRequired
	}
	if payload.Version == "" {
		return ErrVersionRequired
	}

	switch payload.Operation {
	case OpGeneration, OpSummary:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOperation, payload.Operation)
	}

	switch payload.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidProvider, payload.Provider)
	}

	return nil
}

// ArePayloadsEquivalent reports whether two payloads hash to the same key.
func ArePayloadsEquivalent(p1, p2 *CanonicalPayload) (bool, error) {
	key1, err := BuildIdemKey(p1)
	if err != nil {
		return false, fmt.Errorf("failed to build key for p1: %w", err)
	}

	key2, err := BuildIdemKey(p2)
	if err != nil {
		return false, fmt.Errorf("failed to build key for p2: %w", err)
	}

	return key1 == key2, nil
}

// BuildCanonicalPayloadFromPrompt canonicalizes raw generation parameters.
// Activities use it for event deduplication when no idempotency key came in
// from the client; routing through BuildCanonicalPayload keeps the two paths
// incapable of drifting apart.
func BuildCanonicalPayloadFromPrompt(
	tenantID string,
	prompt string,
	provider string,
	model string,
	systemPrompt string,
	maxTokens int64,
	temperature float64,
) (*CanonicalPayload, error) {
	return BuildCanonicalPayload(&Request{
		TenantID:     tenantID,
		Operation:    OpGeneration,
		Provider:     provider,
		Model:        model,
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})
}

// HashCanonicalPayload returns the key for payload, falling back to a
// tenant/operation digest when serialization fails so the caller always has
// something usable for deduplication.
func HashCanonicalPayload(payload *CanonicalPayload) string {
	key, err := BuildIdemKey(payload)
	if err != nil {
		fallback := fmt.Sprintf("%s:%s", payload.TenantID, payload.Operation)
		hash := sha256.Sum256([]byte(fallback))
		return hex.EncodeToString(hash[:])
	}
	return string(key)
}

// IdempotentCacheEntry is the persisted result keyed by IdemKey. Only
// successes are stored; failures must stay retryable.
type IdempotentCacheEntry struct {
	Provider        string            `json:"provider"`
	Model           string            `json:"model"`
	RawResponse     []byte            `json:"raw_response"` // exact provider JSON
	ResponseHeaders map[string]string `json:"response_headers"`
	Usage           NormalizedUsage   `json:"usage"`
	StoredAtUnixMs  int64             `json:"stored_at_ms"`
}

// CacheKey builds the Redis key llm:{tenant}:{operation}:{idemkey}. The
// hierarchy keeps tenants isolated and lets an operation's entries be swept
// together.
func CacheKey(tenantID string, operation OperationType, idemKey IdemKey) string {
	return fmt.Sprintf("llm:%s:%s:%s", tenantID, operation, idemKey)
}
