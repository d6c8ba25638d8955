// internal/websocket/utils.go
package websocket

import "github.com/goccy/go-json"

// mapToStruct converts interface{} to a specific struct using JSON marshaling
func mapToStruct(data interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}

// DecodeData decodes a message payload into target.
func DecodeData(data interface{}, target interface{}) error {
	return mapToStruct(data, target)
}
