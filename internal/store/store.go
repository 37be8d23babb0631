package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/intelligrit/quakesafe/internal/model"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// ErrBadCoordinate is returned when an image coordinate is NaN or infinite.
var ErrBadCoordinate = errors.New("coordinate must be a finite number")

// Store manages all data persistence via DuckDB.
type Store struct {
	DB      *sql.DB
	DataDir string
}

// New opens (or creates) a DuckDB database in the given data directory.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "quakesafe.duckdb")
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	s := &Store{DB: db, DataDir: dataDir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	// Sequences give a stable insertion order independent of clock resolution.
	seqs := []string{
		"CREATE SEQUENCE IF NOT EXISTS images_seq",
		"CREATE SEQUENCE IF NOT EXISTS safety_assessments_seq",
		"CREATE SEQUENCE IF NOT EXISTS chat_messages_seq",
	}
	for _, seq := range seqs {
		if _, err := s.DB.Exec(seq); err != nil {
			return fmt.Errorf("creating sequence: %w", err)
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL DEFAULT nextval('images_seq'),
			user_id TEXT NOT NULL,
			object_key TEXT NOT NULL,
			label TEXT,
			latitude DOUBLE,
			longitude DOUBLE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS safety_assessments (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL DEFAULT nextval('safety_assessments_seq'),
			image_id TEXT NOT NULL REFERENCES images(id),
			safety_score DOUBLE NOT NULL,
			estimated_magnitude_survivability TEXT,
			description TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL DEFAULT nextval('chat_messages_seq'),
			user_id TEXT NOT NULL,
			message_text TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", stmt[:40], err)
		}
	}

	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func finite(f *float64) bool {
	return f == nil || !(math.IsNaN(*f) || math.IsInf(*f, 0))
}

func insertImage(db execer, img *model.Image) error {
	if !finite(img.Latitude) || !finite(img.Longitude) {
		return fmt.Errorf("inserting image %s: %w", img.ID, ErrBadCoordinate)
	}
	_, err := db.Exec("INSERT INTO images (id, user_id, object_key, label, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		img.ID, img.UserID, img.ObjectKey, nullString(img.Label), nullFloat(img.Latitude), nullFloat(img.Longitude), img.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting image %s: %w", img.ID, err)
	}
	return nil
}

func insertAssessment(db execer, a *model.StoredAssessment) error {
	_, err := db.Exec("INSERT INTO safety_assessments (id, image_id, safety_score, estimated_magnitude_survivability, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.ID, a.ImageID, a.Score, nullString(a.SurvivabilityLabel), a.Description, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting assessment for image %s: %w", a.ImageID, err)
	}
	return nil
}

// CreateImage records a stored upload. Latitude and longitude are optional.
func (s *Store) CreateImage(userID, objectKey, label string, lat, lon *float64) (*model.Image, error) {
	img := &model.Image{
		ID:        uuid.NewString(),
		UserID:    userID,
		ObjectKey: objectKey,
		Label:     label,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: now(),
	}
	if err := insertImage(s.DB, img); err != nil {
		return nil, err
	}
	return img, nil
}

// CreateImageWithAssessment records an upload and its first assessment in one
// transaction.
func (s *Store) CreateImageWithAssessment(userID, objectKey, label string, lat, lon *float64, a model.Assessment) (*model.SafetyAssessmentResult, error) {
	ts := now()
	img := model.Image{
		ID:        uuid.NewString(),
		UserID:    userID,
		ObjectKey: objectKey,
		Label:     label,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: ts,
	}
	sa := model.StoredAssessment{
		ID:         uuid.NewString(),
		ImageID:    img.ID,
		CreatedAt:  ts,
		Assessment: a,
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertImage(tx, &img); err != nil {
		return nil, err
	}
	if err := insertAssessment(tx, &sa); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &model.SafetyAssessmentResult{Image: img, Assessment: sa}, nil
}

const imageColumns = "id, user_id, object_key, label, latitude, longitude, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (model.Image, error) {
	var img model.Image
	var label sql.NullString
	var lat, lon sql.NullFloat64
	if err := row.Scan(&img.ID, &img.UserID, &img.ObjectKey, &label, &lat, &lon, &img.CreatedAt); err != nil {
		return model.Image{}, err
	}
	img.Label = label.String
	img.Latitude = floatPtr(lat)
	img.Longitude = floatPtr(lon)
	return img, nil
}

// ReadImage loads one image by id.
func (s *Store) ReadImage(id string) (*model.Image, error) {
	img, err := scanImage(s.DB.QueryRow("SELECT "+imageColumns+" FROM images WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ReadImages loads every image of a user, oldest first. An empty userID
// returns all images.
func (s *Store) ReadImages(userID string) ([]model.Image, error) {
	query := "SELECT " + imageColumns + " FROM images"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY seq"

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// CreateAssessment stores another assessment for an existing image.
func (s *Store) CreateAssessment(imageID string, a model.Assessment) (*model.StoredAssessment, error) {
	sa := &model.StoredAssessment{
		ID:         uuid.NewString(),
		ImageID:    imageID,
		CreatedAt:  now(),
		Assessment: a,
	}
	if err := insertAssessment(s.DB, sa); err != nil {
		return nil, err
	}
	return sa, nil
}

// ReadAssessments loads the assessments of an image, newest first.
func (s *Store) ReadAssessments(imageID string) ([]model.StoredAssessment, error) {
	rows, err := s.DB.Query("SELECT id, image_id, safety_score, estimated_magnitude_survivability, description, created_at FROM safety_assessments WHERE image_id = ? ORDER BY seq DESC", imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StoredAssessment
	for rows.Next() {
		var a model.StoredAssessment
		var surv sql.NullString
		if err := rows.Scan(&a.ID, &a.ImageID, &a.Score, &surv, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SurvivabilityLabel = surv.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateChatMessage appends a message to a user's conversation.
func (s *Store) CreateChatMessage(userID, text string, sender model.SenderType) (*model.ChatMessage, error) {
	m := &model.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Sender:    sender,
		CreatedAt: now(),
	}
	_, err := s.DB.Exec("INSERT INTO chat_messages (id, user_id, message_text, sender_type, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.UserID, m.Text, string(m.Sender), m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting chat message: %w", err)
	}
	return m, nil
}

// ReadChatMessages loads a user's conversation, oldest first. limit <= 0
// returns everything; otherwise only the latest limit messages.
func (s *Store) ReadChatMessages(userID string, limit int) ([]model.ChatMessage, error) {
	query := "SELECT id, user_id, message_text, sender_type, created_at, seq FROM chat_messages WHERE user_id = ? ORDER BY seq DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var sender string
		var seq int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &sender, &m.CreatedAt, &seq); err != nil {
			return nil, err
		}
		m.Sender = model.SenderType(sender)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ImageCount returns the number of stored images.
func (s *Store) ImageCount() int {
	var n int
	s.DB.QueryRow("SELECT COUNT(*) FROM images").Scan(&n)
	return n
}

// LocatedImageCount returns how many images carry both coordinates.
func (s *Store) LocatedImageCount() int {
	var n int
	s.DB.QueryRow("SELECT COUNT(*) FROM images WHERE latitude IS NOT NULL AND longitude IS NOT NULL").Scan(&n)
	return n
}

// AssessmentCount returns the number of stored assessments.
func (s *Store) AssessmentCount() int {
	var n int
	s.DB.QueryRow("SELECT COUNT(*) FROM safety_assessments").Scan(&n)
	return n
}

// ChatMessageCount returns the number of stored chat messages.
func (s *Store) ChatMessageCount() int {
	var n int
	s.DB.QueryRow("SELECT COUNT(*) FROM chat_messages").Scan(&n)
	return n
}

// AssessmentCountByUser returns assessment counts per user.
func (s *Store) AssessmentCountByUser() map[string]int {
	m := make(map[string]int)
	rows, err := s.DB.Query("SELECT i.user_id, COUNT(*) FROM safety_assessments sa JOIN images i ON sa.image_id = i.id GROUP BY i.user_id ORDER BY i.user_id")
	if err != nil {
		return m
	}
	defer rows.Close()
	for rows.Next() {
		var user string
		var cnt int
		rows.Scan(&user, &cnt)
		m[user] = cnt
	}
	return m
}
