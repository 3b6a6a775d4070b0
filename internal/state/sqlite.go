package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/user/soulsync/internal/types"
)

const (
	seqIndexID   = "index_id"
	seqSessionID = "session_id"
)

type memorySession struct {
	SessionID int64     `gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time `gorm:"index;not null"`
	Record    string    `gorm:"type:text;not null"`
}

func (memorySession) TableName() string { return "memory_sessions" }

type memoryEntry struct {
	IndexID   int64     `gorm:"primaryKey;autoIncrement:false"`
	Type      string    `gorm:"type:text;index;not null"`
	SessionID int64     `gorm:"index;not null"`
	Timestamp time.Time `gorm:"not null"`
	Entry     string    `gorm:"type:text;not null"`
	Vector    []byte
}

func (memoryEntry) TableName() string { return "memory_entries" }

type memorySequence struct {
	Name  string `gorm:"primaryKey"`
	Value int64  `gorm:"not null"`
}

func (memorySequence) TableName() string { return "memory_sequences" }

// SQLiteStore persists memory in SQLite through gorm. Every commit is one
// transaction.
type SQLiteStore struct {
	path string
	db   *gorm.DB
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=ON"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrateMemory(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func migrateMemory(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_memory_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&memorySession{}, &memoryEntry{}, &memorySequence{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("memory_sessions", "memory_entries", "memory_sequences")
			},
		},
	})
	return m.Migrate()
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load reads every session and entry in id order. Vectors are returned only
// when every entry has one. Sequence counters are read first; if a row then
// fails to load, the counters come back with the error so ids are never
// reused.
func (s *SQLiteStore) Load(ctx context.Context) (*types.MemorySnapshot, error) {
	db := s.db.WithContext(ctx)
	snap := &types.MemorySnapshot{}
	if err := loadSequences(db, snap); err != nil {
		return nil, err
	}
	counters := &types.MemorySnapshot{NextIndexID: snap.NextIndexID, NextSessionID: snap.NextSessionID}

	var sessions []memorySession
	if err := db.Order("session_id").Find(&sessions).Error; err != nil {
		return counters, fmt.Errorf("load sessions: %w", err)
	}
	for _, row := range sessions {
		var rec types.SessionRecord
		if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
			return counters, fmt.Errorf("decode session %d: %w", row.SessionID, err)
		}
		snap.Sessions = append(snap.Sessions, &rec)
	}

	var entries []memoryEntry
	if err := db.Order("index_id").Find(&entries).Error; err != nil {
		return counters, fmt.Errorf("load entries: %w", err)
	}
	complete := true
	for _, row := range entries {
		var e types.MemoryEntry
		if err := json.Unmarshal([]byte(row.Entry), &e); err != nil {
			return counters, fmt.Errorf("decode entry %d: %w", row.IndexID, err)
		}
		snap.Entries = append(snap.Entries, &e)
		if len(row.Vector) == 0 {
			complete = false
			continue
		}
		snap.Vectors = append(snap.Vectors, decodeVector(row.Vector))
	}
	if !complete {
		snap.Vectors = nil
	}
	return snap, nil
}

// loadSequences fills the next-id counters from the sequence table, raised to
// stay above any row already stored.
func loadSequences(db *gorm.DB, snap *types.MemorySnapshot) error {
	var seqs []memorySequence
	if err := db.Find(&seqs).Error; err != nil {
		return fmt.Errorf("load sequences: %w", err)
	}
	for _, seq := range seqs {
		switch seq.Name {
		case seqIndexID:
			snap.NextIndexID = seq.Value
		case seqSessionID:
			snap.NextSessionID = seq.Value
		}
	}

	var maxIndex, maxSession int64
	if err := db.Model(&memoryEntry{}).Select("COALESCE(MAX(index_id) + 1, 0)").Scan(&maxIndex).Error; err != nil {
		return fmt.Errorf("load sequences: %w", err)
	}
	if err := db.Model(&memorySession{}).Select("COALESCE(MAX(session_id) + 1, 0)").Scan(&maxSession).Error; err != nil {
		return fmt.Errorf("load sequences: %w", err)
	}
	snap.NextIndexID = max(snap.NextIndexID, maxIndex)
	snap.NextSessionID = max(snap.NextSessionID, maxSession)
	return nil
}

// Commit writes the record, entries, vectors and sequences in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, c *types.MemoryCommit) error {
	if len(c.Vectors) > 0 && len(c.Vectors) != len(c.Entries) {
		return errors.New("commit: vector count does not match entries")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Record != nil {
			data, err := json.Marshal(c.Record)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}
			row := memorySession{SessionID: c.Record.SessionID, Timestamp: c.Record.Timestamp, Record: string(data)}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert session: %w", err)
			}
		}

		if len(c.Entries) > 0 {
			rows := make([]memoryEntry, 0, len(c.Entries))
			for i, e := range c.Entries {
				data, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("encode entry: %w", err)
				}
				row := memoryEntry{
					IndexID:   e.IndexID,
					Type:      string(e.Type),
					SessionID: e.SessionID,
					Timestamp: e.Timestamp,
					Entry:     string(data),
				}
				if len(c.Vectors) > 0 {
					row.Vector = encodeVector(c.Vectors[i])
				}
				rows = append(rows, row)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert entries: %w", err)
			}
		}

		seqs := []memorySequence{
			{Name: seqIndexID, Value: c.NextIndexID},
			{Name: seqSessionID, Value: c.NextSessionID},
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&seqs).Error
	})
}

// Clear deletes sessions and entries. Sequences survive.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&memoryEntry{}).Error; err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&memorySession{}).Error; err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		return nil
	})
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
