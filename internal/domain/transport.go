package domain

// Ref identifies a published transport item.
type Ref string

// String returns the string form of the reference.
func (r Ref) String() string { return string(r) }

// Cursor is a block height from which polling resumes.
type Cursor uint64

// Item is one raw entry read from the transport.
type Item struct {
	Ref       Ref    `json:"ref"`
	Block     uint64 `json:"block"`
	Frame     string `json:"frame"`
	Timestamp int64  `json:"timestamp"`
}

// Batch is the result of one poll. Head is the highest block observed.
type Batch struct {
	Items []Item `json:"items"`
	Head  uint64 `json:"head"`
}
