// Package wal turns PostgreSQL logical replication (pgoutput) of the
// matches table into store changes.
package wal

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pglogrepl"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/store"
)

// Consumer decodes pgoutput messages. It is not safe for concurrent use;
// one Consumer belongs to one replication connection.
type Consumer struct {
	Table string
	Log   *zap.Logger

	relations map[uint32]*pglogrepl.RelationMessage
}

func NewConsumer(table string, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{Table: table, Log: log, relations: make(map[uint32]*pglogrepl.RelationMessage)}
}

// OnMessage decodes one XLogData payload. ok is false for messages that
// carry no match change (begin, commit, other tables, deletes).
func (c *Consumer) OnMessage(walData []byte) (store.Change, bool, error) {
	msg, err := pglogrepl.Parse(walData)
	if err != nil {
		return store.Change{}, false, fmt.Errorf("parse pgoutput: %w", err)
	}
	return c.handle(msg)
}

func (c *Consumer) handle(msg pglogrepl.Message) (store.Change, bool, error) {
	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		c.relations[m.RelationID] = m
		return store.Change{}, false, nil
	case *pglogrepl.InsertMessage:
		return c.decodeTuple(m.RelationID, m.Tuple)
	case *pglogrepl.UpdateMessage:
		return c.decodeTuple(m.RelationID, m.NewTuple)
	}
	return store.Change{}, false, nil
}

func (c *Consumer) decodeTuple(relID uint32, tuple *pglogrepl.TupleData) (store.Change, bool, error) {
	rel, ok := c.relations[relID]
	if !ok {
		return store.Change{}, false, fmt.Errorf("unknown relation id %d", relID)
	}
	if rel.RelationName != c.Table || tuple == nil {
		return store.Change{}, false, nil
	}

	var ch store.Change
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		switch rel.Columns[i].Name {
		case "id":
			if col.DataType == pglogrepl.TupleDataTypeText {
				ch.MatchID = string(col.Data)
			}
		case "doc":
			// an unchanged toasted doc is not sent; the relay reloads it
			if col.DataType != pglogrepl.TupleDataTypeText {
				continue
			}
			var doc store.Document
			if err := json.Unmarshal(col.Data, &doc); err != nil {
				return store.Change{}, false, fmt.Errorf("decode doc of %q: %w", ch.MatchID, err)
			}
			ch.Document = doc
		}
	}
	if ch.MatchID == "" {
		return store.Change{}, false, fmt.Errorf("%s.%s row without id", rel.Namespace, rel.RelationName)
	}
	c.Log.Debug("wal change", zap.String("match_id", ch.MatchID), zap.Bool("has_doc", ch.Document != nil))
	return ch, true, nil
}
