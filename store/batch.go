package store

// OpKind is the kind of a batched operation.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "put"
}

// Op is a single write inside a Batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

// Batch is an ordered list of writes applied atomically by Store.Apply.
// When a key appears more than once the last operation wins.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put appends a put.
func (b *Batch) Put(key string, value []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: OpPut, Key: key, Value: value})
	return b
}

// Delete appends a delete.
func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
	return b
}

// Ops returns the operations in order.
func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return b.ops
}

// Len returns the number of operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}
