package memory

import "encoding/json"

// clone deep copies v through JSON so stored records never alias caller memory
// and carry the same value shapes as the durable adapters.
func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
