// Package graph stores knowledge edges in Neo4j. Entities stay in the
// document store; the graph only holds id nodes and typed relationships.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// relTypes maps edge types to relationship types. Cypher cannot take a
// relationship type as a parameter, so only these names are ever spliced in.
var relTypes = map[knowledge.EdgeType]string{
	knowledge.EdgeRequires:       "REQUIRES",
	knowledge.EdgeRelatesTo:      "RELATES_TO",
	knowledge.EdgeDemonstratedBy: "DEMONSTRATED_BY",
	knowledge.EdgeExploredIn:     "EXPLORED_IN",
	knowledge.EdgeBuildsOn:       "BUILDS_ON",
	knowledge.EdgeAppliedIn:      "APPLIED_IN",
}

var edgeTypes = func() map[string]knowledge.EdgeType {
	m := make(map[string]knowledge.EdgeType, len(relTypes))
	for et, rel := range relTypes {
		m[rel] = et
	}
	return m
}()

const nodeEdge knowledge.NodeType = "edge"

// Store is a knowledge.EdgeStore backed by Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

var _ knowledge.EdgeStore = (*Store)(nil)

// NewStore creates a Neo4j edge store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint on entity ids.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create entity constraint: %w", err)
	}
	s.logger.Info("Neo4j schema ready")
	return nil
}

func relType(t knowledge.EdgeType) (string, error) {
	rel, ok := relTypes[t]
	if !ok {
		return "", fmt.Errorf("unknown edge type %q", t)
	}
	return rel, nil
}

func encodeMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode edge metadata: %w", err)
	}
	return string(b), nil
}

// CreateEdge merges both endpoint nodes and adds the relationship.
func (s *Store) CreateEdge(ctx context.Context, e *knowledge.Edge) error {
	rel, err := relType(e.Type)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	meta, err := encodeMeta(e.Metadata)
	if err != nil {
		return err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.Run(ctx,
		`MERGE (a:Entity {id: $fromId}) ON CREATE SET a.kind = $fromType
		 MERGE (b:Entity {id: $toId}) ON CREATE SET b.kind = $toType
		 CREATE (a)-[:`+rel+` {id: $id, metadata: $meta, created_at: $createdAt}]->(b)`,
		map[string]interface{}{
			"id":        e.ID,
			"fromId":    e.FromID,
			"fromType":  string(e.FromType),
			"toId":      e.ToID,
			"toType":    string(e.ToType),
			"meta":      meta,
			"createdAt": e.CreatedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("create edge %s: %w", e.ID, err)
	}
	return nil
}

// UpdateEdge replaces the metadata of an existing relationship.
func (s *Store) UpdateEdge(ctx context.Context, e *knowledge.Edge) error {
	meta, err := encodeMeta(e.Metadata)
	if err != nil {
		return err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Entity)-[r {id: $id}]->(:Entity)
		 SET r.metadata = $meta
		 RETURN r.id`,
		map[string]interface{}{"id": e.ID, "meta": meta})
	if err != nil {
		return fmt.Errorf("update edge %s: %w", e.ID, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return fmt.Errorf("update edge %s: %w", e.ID, err)
		}
		return knowledge.NotFound(nodeEdge, e.ID)
	}
	return nil
}

func (s *Store) EdgesFrom(ctx context.Context, nodeID string, t knowledge.EdgeType) ([]knowledge.Edge, error) {
	return s.edges(ctx, `MATCH (a:Entity {id: $id})-[r]->(b:Entity)`, nodeID, t)
}

func (s *Store) EdgesTo(ctx context.Context, nodeID string, t knowledge.EdgeType) ([]knowledge.Edge, error) {
	return s.edges(ctx, `MATCH (a:Entity)-[r]->(b:Entity {id: $id})`, nodeID, t)
}

func (s *Store) edges(ctx context.Context, match, nodeID string, t knowledge.EdgeType) ([]knowledge.Edge, error) {
	rel := ""
	if t != "" {
		var err error
		if rel, err = relType(t); err != nil {
			return nil, err
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		match+`
		 WHERE $rel = '' OR type(r) = $rel
		 RETURN r.id AS id, type(r) AS rel, r.metadata AS metadata, r.created_at AS created_at,
		        a.id AS from_id, a.kind AS from_kind, b.id AS to_id, b.kind AS to_kind
		 ORDER BY r.created_at`,
		map[string]interface{}{"id": nodeID, "rel": rel})
	if err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", nodeID, err)
	}

	var out []knowledge.Edge
	for result.Next(ctx) {
		e, err := decodeEdge(result.Record())
		if err != nil {
			s.logger.Warn("Skipping malformed edge", zap.String("node", nodeID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read edges of %s: %w", nodeID, err)
	}
	return out, nil
}

func decodeEdge(rec *neo4j.Record) (knowledge.Edge, error) {
	str := func(key string) string {
		v, _ := rec.Get(key)
		s, _ := v.(string)
		return s
	}

	e := knowledge.Edge{
		ID:       str("id"),
		FromID:   str("from_id"),
		FromType: knowledge.NodeType(str("from_kind")),
		ToID:     str("to_id"),
		ToType:   knowledge.NodeType(str("to_kind")),
		Type:     edgeTypes[str("rel")],
	}
	if ts := str("created_at"); ts != "" {
		created, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return e, fmt.Errorf("parse created_at of %s: %w", e.ID, err)
		}
		e.CreatedAt = created
	}
	if meta := str("metadata"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
	}
	return e, nil
}
