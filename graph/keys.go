package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/types"
)

// Store layout:
//
//	task/<id>                 -> task record
//	edge/<source>/<target>    -> edge record
//	audit/<unix nanos>/<uuid> -> override record
//
// Segments are path-escaped by store.Key. Audit timestamps are zero padded
// to 20 digits so that key order is chronological.
const (
	taskPrefix  = "task/"
	edgePrefix  = "edge/"
	auditPrefix = "audit/"
)

func taskKey(id string) string {
	return store.Key("task", id)
}

func edgeKey(source, target string) string {
	return store.Key("edge", source, target)
}

func auditKey(at time.Time, id string) string {
	return store.Key("audit", fmt.Sprintf("%020d", at.UnixNano()), id)
}

func putTask(b *store.Batch, t types.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return types.Errorf(types.ErrInternalError, "encode task %q", t.ID).WithCause(err)
	}
	b.Put(taskKey(t.ID), data)
	return nil
}

func putEdge(b *store.Batch, edge types.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return types.Errorf(types.ErrInternalError, "encode edge %s", edge).WithCause(err)
	}
	b.Put(edgeKey(edge.Source, edge.Target), data)
	return nil
}

func putAudit(b *store.Batch, rec types.OverrideRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return types.Errorf(types.ErrInternalError, "encode override record %s", rec.ID).WithCause(err)
	}
	b.Put(auditKey(rec.CreatedAt, rec.ID), data)
	return nil
}

func decodeTask(kv store.KV) (types.Task, error) {
	var t types.Task
	if err := json.Unmarshal(kv.Value, &t); err != nil {
		return t, errCorrupt("undecodable task record %q", kv.Key).WithCause(err)
	}
	if t.ID == "" || taskKey(t.ID) != kv.Key {
		return t, errCorrupt("task record %q does not match its key", kv.Key)
	}
	if !t.Phase.Valid() {
		return t, errCorrupt("task %q has unknown phase %q", t.ID, t.Phase)
	}
	return t, nil
}

func decodeEdge(kv store.KV) (types.Edge, error) {
	var edge types.Edge
	if err := json.Unmarshal(kv.Value, &edge); err != nil {
		return edge, errCorrupt("undecodable edge record %q", kv.Key).WithCause(err)
	}
	if edgeKey(edge.Source, edge.Target) != kv.Key {
		return edge, errCorrupt("edge record %q does not match its key", kv.Key)
	}
	if !edge.Type.Valid() {
		return edge, errCorrupt("edge %s has unknown type %q", edge, edge.Type)
	}
	return edge, nil
}

func decodeAudit(kv store.KV) (types.OverrideRecord, error) {
	var rec types.OverrideRecord
	if err := json.Unmarshal(kv.Value, &rec); err != nil {
		return rec, errCorrupt("undecodable override record %q", kv.Key).WithCause(err)
	}
	return rec, nil
}
