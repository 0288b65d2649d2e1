package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schema mirrors the original client's table layout: config is a flat
// key/value table, sensors/readings/topics/topic_sensors/subscriptions/
// subscription_data carry the rest.
const schema = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS sensors (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT UNIQUE NOT NULL,
	last_value   TEXT,
	last_updated INTEGER
);

CREATE TABLE IF NOT EXISTS readings (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_id INTEGER NOT NULL REFERENCES sensors(id),
	timestamp INTEGER NOT NULL,
	value     TEXT,
	units     TEXT
);

CREATE TABLE IF NOT EXISTS topics (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT UNIQUE NOT NULL,
	publish BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS topic_sensors (
	topic_id  INTEGER NOT NULL REFERENCES topics(id),
	sensor_id INTEGER NOT NULL REFERENCES sensors(id),
	PRIMARY KEY (topic_id, sensor_id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_name       TEXT NOT NULL,
	source_client_id TEXT NOT NULL,
	active           BOOLEAN NOT NULL DEFAULT 1,
	UNIQUE(topic_name, source_client_id)
);

CREATE TABLE IF NOT EXISTS subscription_data (
	subscription_id INTEGER NOT NULL REFERENCES subscriptions(id),
	timestamp       INTEGER NOT NULL,
	raw_json        TEXT NOT NULL
);
`

// SQLiteStore is the production Store backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures its schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite allows only one writer at a time; the driver otherwise
	// surfaces SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) configGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) configSet(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteStore) GetClientID() (string, error) {
	v, _, err := s.configGet("client_id")
	return v, err
}

func (s *SQLiteStore) SetClientID(id string) error {
	return s.configSet("client_id", id)
}

func (s *SQLiteStore) GetClientMetadata() (map[string]string, error) {
	v, ok, err := s.configGet("client_metadata")
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return map[string]string{}, nil
	}
	meta := map[string]string{}
	if err := json.Unmarshal([]byte(v), &meta); err != nil {
		return nil, fmt.Errorf("store: decode client metadata: %w", err)
	}
	return meta, nil
}

func (s *SQLiteStore) SetClientMetadata(meta map[string]string) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.configSet("client_metadata", string(encoded))
}

func (s *SQLiteStore) GetBrokerHost() (string, error) {
	v, ok, err := s.configGet("broker_host")
	if err != nil {
		return "", err
	}
	if !ok {
		return "localhost", nil
	}
	return v, nil
}

func (s *SQLiteStore) SetBrokerHost(host string) error {
	return s.configSet("broker_host", host)
}

func (s *SQLiteStore) GetBrokerPort() (int, error) {
	v, ok, err := s.configGet("broker_port")
	if err != nil {
		return 0, err
	}
	if !ok || v == "" {
		return 1505, nil
	}
	var port int
	if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
		return 0, fmt.Errorf("store: decode broker port: %w", err)
	}
	return port, nil
}

func (s *SQLiteStore) SetBrokerPort(port int) error {
	return s.configSet("broker_port", fmt.Sprintf("%d", port))
}

// AddReading creates the sensor row lazily on first use, then appends
// the reading and updates last_value/last_updated in one transaction so
// concurrent readers never see the two halves diverge.
func (s *SQLiteStore) AddReading(name, value string, timestamp int64, units string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sensors (name, last_value, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_value = excluded.last_value, last_updated = excluded.last_updated
		WHERE excluded.last_updated >= sensors.last_updated`, name, value, timestamp); err != nil {
		return fmt.Errorf("store: upsert sensor %q: %w", name, err)
	}

	// The id is looked up by name: when the upsert updates (or skips) an
	// existing row, LastInsertId does not report that row's id.
	var sensorID int64
	if err := tx.QueryRow(`SELECT id FROM sensors WHERE name = ?`, name).Scan(&sensorID); err != nil {
		return fmt.Errorf("store: lookup sensor %q: %w", name, err)
	}

	if _, err := tx.Exec(`INSERT INTO readings (sensor_id, timestamp, value, units) VALUES (?, ?, ?, ?)`,
		sensorID, timestamp, value, units); err != nil {
		return fmt.Errorf("store: insert reading for %q: %w", name, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetSensors() ([]Sensor, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(last_value, ''), COALESCE(last_updated, 0) FROM sensors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var sen Sensor
		if err := rows.Scan(&sen.ID, &sen.Name, &sen.LastValue, &sen.LastUpdated); err != nil {
			return nil, err
		}
		sensors = append(sensors, sen)
	}
	return sensors, rows.Err()
}

func (s *SQLiteStore) GetSensor(idOrName string) (Sensor, error) {
	var sen Sensor
	err := s.db.QueryRow(`
		SELECT id, name, COALESCE(last_value, ''), COALESCE(last_updated, 0)
		FROM sensors WHERE name = ? OR id = ?`, idOrName, idOrName).
		Scan(&sen.ID, &sen.Name, &sen.LastValue, &sen.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Sensor{}, fmt.Errorf("store: sensor %q: %w", idOrName, ErrNotFound)
	}
	return sen, err
}

func (s *SQLiteStore) GetReadings(name string, limit int, start, end *int64) ([]Reading, error) {
	query := `
		SELECT r.sensor_id, r.timestamp, r.value, r.units
		FROM readings r JOIN sensors s ON s.id = r.sensor_id
		WHERE s.name = ?`
	args := []any{name}
	if start != nil {
		query += ` AND r.timestamp >= ?`
		args = append(args, *start)
	}
	if end != nil {
		query += ` AND r.timestamp <= ?`
		args = append(args, *end)
	}
	query += ` ORDER BY r.timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.SensorID, &r.Timestamp, &r.Value, &r.Units); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *SQLiteStore) CreateTopic(name string, publish bool) error {
	_, err := s.db.Exec(`
		INSERT INTO topics (name, publish) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET publish = excluded.publish`, name, publish)
	return err
}

func (s *SQLiteStore) GetTopics() ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, name, publish FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

func (s *SQLiteStore) GetTopic(idOrName string) (Topic, error) {
	var t Topic
	err := s.db.QueryRow(`SELECT id, name, publish FROM topics WHERE name = ? OR id = ?`, idOrName, idOrName).
		Scan(&t.ID, &t.Name, &t.Publish)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, fmt.Errorf("store: topic %q: %w", idOrName, ErrNotFound)
	}
	return t, err
}

func (s *SQLiteStore) SetTopicPublish(name string, publish bool) error {
	res, err := s.db.Exec(`UPDATE topics SET publish = ? WHERE name = ?`, publish, name)
	if err != nil {
		return err
	}
	return checkAffected(res, "topic %q", name)
}

func (s *SQLiteStore) AddSensorToTopic(topic, sensor string) error {
	t, err := s.GetTopic(topic)
	if err != nil {
		return err
	}
	sen, err := s.GetSensor(sensor)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO topic_sensors (topic_id, sensor_id) VALUES (?, ?)`, t.ID, sen.ID)
	return err
}

func (s *SQLiteStore) RemoveSensorFromTopic(topic, sensor string) error {
	t, err := s.GetTopic(topic)
	if err != nil {
		return err
	}
	sen, err := s.GetSensor(sensor)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM topic_sensors WHERE topic_id = ? AND sensor_id = ?`, t.ID, sen.ID)
	return err
}

func (s *SQLiteStore) GetTopicSensors(topic string) ([]Sensor, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.name, COALESCE(s.last_value, ''), COALESCE(s.last_updated, 0)
		FROM sensors s
		JOIN topic_sensors ts ON ts.sensor_id = s.id
		JOIN topics t ON t.id = ts.topic_id
		WHERE t.name = ?
		ORDER BY s.name`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var sen Sensor
		if err := rows.Scan(&sen.ID, &sen.Name, &sen.LastValue, &sen.LastUpdated); err != nil {
			return nil, err
		}
		sensors = append(sensors, sen)
	}
	return sensors, rows.Err()
}

func (s *SQLiteStore) GetPublishedTopics() ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, name, publish FROM topics WHERE publish = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

// AddSubscription is idempotent on (topic, source): a repeat call leaves
// the single active row untouched instead of erroring or duplicating it.
func (s *SQLiteStore) AddSubscription(topic, sourceClientID string) error {
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (topic_name, source_client_id, active) VALUES (?, ?, 1)
		ON CONFLICT(topic_name, source_client_id) DO UPDATE SET active = 1`, topic, sourceClientID)
	return err
}

func (s *SQLiteStore) RemoveSubscription(topic, sourceClientID string) error {
	_, err := s.db.Exec(`UPDATE subscriptions SET active = 0 WHERE topic_name = ? AND source_client_id = ?`,
		topic, sourceClientID)
	return err
}

func (s *SQLiteStore) GetSubscriptions() ([]Subscription, error) {
	rows, err := s.db.Query(`SELECT id, topic_name, source_client_id, active FROM subscriptions WHERE active = 1 ORDER BY topic_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.TopicName, &sub.SourceClientID, &sub.Active); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) AddSubscriptionData(topic, sourceClientID string, timestamp int64, rawJSON string) error {
	var subID int64
	err := s.db.QueryRow(`SELECT id FROM subscriptions WHERE topic_name = ? AND source_client_id = ?`,
		topic, sourceClientID).Scan(&subID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: no subscription for %s/%s: %w", sourceClientID, topic, ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO subscription_data (subscription_id, timestamp, raw_json) VALUES (?, ?, ?)`,
		subID, timestamp, rawJSON)
	return err
}

func (s *SQLiteStore) GetSubscriptionData(topic, sourceClientID string, limit int) ([]SubscriptionDatum, error) {
	query := `
		SELECT d.subscription_id, d.timestamp, d.raw_json
		FROM subscription_data d
		JOIN subscriptions sub ON sub.id = d.subscription_id
		WHERE sub.topic_name = ? AND sub.source_client_id = ?
		ORDER BY d.timestamp DESC`
	args := []any{topic, sourceClientID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var data []SubscriptionDatum
	for rows.Next() {
		var d SubscriptionDatum
		if err := rows.Scan(&d.SubscriptionID, &d.Timestamp, &d.RawJSON); err != nil {
			return nil, err
		}
		data = append(data, d)
	}
	return data, rows.Err()
}

func scanTopics(rows *sql.Rows) ([]Topic, error) {
	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Publish); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func checkAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: "+format+": %w", append(args, ErrNotFound)...)
	}
	return nil
}

// ErrNotFound is returned when a lookup by id or name matches no row.
var ErrNotFound = errors.New("store: not found")
