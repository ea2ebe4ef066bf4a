// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex implements VectorIndex on a Qdrant instance. Each
// repository gets two collections, one per index granularity, created
// when the embedding dimension is known.
type QdrantIndex struct {
	client *qdrant.Client
	logger *slog.Logger
}

// QdrantConfig holds connection settings for the vector store.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	return &QdrantIndex{client: client, logger: logger}, nil
}

func summaryCollection(repoID string) string { return "repomind_" + repoID + "_summary" }
func chunkCollection(repoID string) string   { return "repomind_" + repoID + "_code" }

func (q *QdrantIndex) ensureCollection(ctx context.Context, name string, dim int) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	q.logger.Info("vector.collection.created", "collection", name, "dim", dim)
	return nil
}

func (q *QdrantIndex) EnsureRepo(ctx context.Context, repoID string, dim int) error {
	if err := q.ensureCollection(ctx, summaryCollection(repoID), dim); err != nil {
		return err
	}
	return q.ensureCollection(ctx, chunkCollection(repoID), dim)
}

// chunkPointID derives a stable point id so re-upserts overwrite rather
// than duplicate.
func chunkPointID(fileID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", fileID, chunkIndex))).String()
}

func summaryPointID(fileID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fileID+"#summary")).String()
}

func (q *QdrantIndex) UpsertSummaries(ctx context.Context, repoID string, points []SummaryPoint) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, pt := range points {
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewID(summaryPointID(pt.FileID)),
			Vectors: qdrant.NewVectors(pt.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"file_id": pt.FileID,
				"path":    pt.Path,
			}),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: summaryCollection(repoID),
		Wait:           qdrant.PtrOf(true),
		Points:         qp,
	})
	if err != nil {
		return fmt.Errorf("upsert summary vectors: %w", err)
	}
	return nil
}

func (q *QdrantIndex) UpsertChunks(ctx context.Context, repoID string, points []ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, pt := range points {
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunkPointID(pt.FileID, pt.ChunkIndex)),
			Vectors: qdrant.NewVectors(pt.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"file_id":     pt.FileID,
				"path":        pt.Path,
				"chunk_index": int64(pt.ChunkIndex),
				"chunk_type":  string(pt.ChunkType),
				"chunk_name":  pt.ChunkName,
				"line_start":  int64(pt.LineStart),
				"line_end":    int64(pt.LineEnd),
			}),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: chunkCollection(repoID),
		Wait:           qdrant.PtrOf(true),
		Points:         qp,
	})
	if err != nil {
		return fmt.Errorf("upsert chunk vectors: %w", err)
	}
	return nil
}

// normalizeCosine maps Qdrant's cosine score range [-1,1] into [0,1].
func normalizeCosine(score float32) float64 {
	s := (float64(score) + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (q *QdrantIndex) query(ctx context.Context, collection string, vec []float32, limit int, withChunk bool) ([]VectorHit, error) {
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector query %s: %w", collection, err)
	}

	hits := make([]VectorHit, 0, len(scored))
	for _, sp := range scored {
		hit := VectorHit{
			ChunkIndex: -1,
			Similarity: normalizeCosine(sp.Score),
		}
		if v, ok := sp.Payload["file_id"]; ok {
			hit.FileID = v.GetStringValue()
		}
		if v, ok := sp.Payload["path"]; ok {
			hit.Path = v.GetStringValue()
		}
		if withChunk {
			if v, ok := sp.Payload["chunk_index"]; ok {
				hit.ChunkIndex = int(v.GetIntegerValue())
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (q *QdrantIndex) QuerySummaries(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error) {
	return q.query(ctx, summaryCollection(repoID), vec, limit, false)
}

func (q *QdrantIndex) QueryChunks(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error) {
	return q.query(ctx, chunkCollection(repoID), vec, limit, true)
}

func (q *QdrantIndex) DropRepo(ctx context.Context, repoID string) error {
	if err := q.client.DeleteCollection(ctx, summaryCollection(repoID)); err != nil {
		return fmt.Errorf("drop summary collection: %w", err)
	}
	if err := q.client.DeleteCollection(ctx, chunkCollection(repoID)); err != nil {
		return fmt.Errorf("drop chunk collection: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Close() error { return q.client.Close() }

var _ VectorIndex = (*QdrantIndex)(nil)
