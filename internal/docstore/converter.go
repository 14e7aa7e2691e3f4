package docstore

// Converter maps a domain record to and from its stored representation.
type Converter[T any] interface {
	ToStorage(v T) (Data, error)
	FromStorage(d Data) (T, error)
}

// DataConverter passes Data through unchanged. Useful for maintenance code
// that works on raw documents.
type DataConverter struct{}

func (DataConverter) ToStorage(v Data) (Data, error)   { return CloneData(v), nil }
func (DataConverter) FromStorage(d Data) (Data, error) { return CloneData(d), nil }
