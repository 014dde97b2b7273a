// Package batch splits cache and ledger mutations into bounded bulk writes.
//
// MongoDB has no multi-document transaction here (standalone servers and
// DocumentDB-style backends are supported), so each chunk of at most
// MaxOps mutations is the unit of atomicity. A failure part-way leaves the
// chunks before it durable.
package batch

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MaxOps is the number of mutations sent in one bulk write.
const MaxOps = 500

// Result totals the per-chunk bulk write results.
type Result struct {
	Chunks   int
	Inserted int64
	Matched  int64
	Modified int64
	Deleted  int64
	Upserted int64
}

// Chunks splits items into consecutive slices of at most size elements.
// A size below 1 is treated as MaxOps.
func Chunks[T any](items []T, size int) [][]T {
	if size < 1 {
		size = MaxOps
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}

// Write applies models to coll in unordered chunks of MaxOps.
// It stops at the first failing chunk and returns the totals of the chunks
// written so far together with the error.
func Write(ctx context.Context, coll *mongo.Collection, models []mongo.WriteModel) (Result, error) {
	var total Result
	opts := options.BulkWrite().SetOrdered(false)

	for i, chunk := range Chunks(models, MaxOps) {
		res, err := coll.BulkWrite(ctx, chunk, opts)
		if res != nil {
			total.add(res)
		}
		if err != nil {
			return total, fmt.Errorf("bulk write %s chunk %d: %w", coll.Name(), i, err)
		}
		total.Chunks++
	}
	return total, nil
}

func (r *Result) add(res *mongo.BulkWriteResult) {
	r.Inserted += res.InsertedCount
	r.Matched += res.MatchedCount
	r.Modified += res.ModifiedCount
	r.Deleted += res.DeletedCount
	r.Upserted += res.UpsertedCount
}
