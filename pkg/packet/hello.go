package packet

const (
	TypeHelloRequest  = 0x03
	TypeHelloResponse = 0x04
)

// ProtocolVersion must match on both ends of a connection.
const ProtocolVersion = "1"

type (
	// HelloRequest opens every connection. ChunkSize and Ack are
	// announced for a future segmentation mode and currently ignored.
	HelloRequest struct {
		ID        string `json:"id"`
		Version   string `json:"version"`
		ChunkSize int    `json:"chunkSize"`
		Ack       bool   `json:"ack"`
	}

	HelloResponse struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Reason  string `json:"reason,omitempty"`
	}
)
