// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"database/sql"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/notedco/noted/wire"
)

// Config carries the database coordinates and the content directories.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// DataDir holds data/<uid>/<title>.md and data/graphs; SaveDir holds
	// the historic snapshots.
	DataDir string
	SaveDir string
}

// MySQL implements Store on a MySQL database plus the content directories.
type MySQL struct {
	db      *sql.DB
	dataDir string
	saveDir string
}

var _ Store = (*MySQL)(nil)

// Open connects, pings and ensures the schema exists.
func Open(cfg Config) (*MySQL, error) {
	dsn := mysql.NewConfig()
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.DBName = cfg.Name
	dsn.ParseTime = true

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &MySQL{
		db:      db,
		dataDir: cfg.DataDir,
		saveDir: cfg.SaveDir,
	}
	err = s.ensureSchema()
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *MySQL) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS User (
		id INT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(191) NOT NULL UNIQUE,
		hashedPass VARCHAR(64) NOT NULL,
		salt VARBINARY(32) NOT NULL,
		isPublic BOOLEAN NOT NULL DEFAULT FALSE,
		createTime DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS Summary (
		id INT AUTO_INCREMENT PRIMARY KEY,
		ownerId INT NOT NULL,
		shareLink VARCHAR(191) NOT NULL UNIQUE,
		path_to_summary VARCHAR(512) NOT NULL,
		font VARCHAR(64) NOT NULL DEFAULT 'Arial',
		createTime DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updateTime DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (ownerId) REFERENCES User(id)
	)`,
	`CREATE TABLE IF NOT EXISTS permission (
		summaryId INT NOT NULL,
		userId INT NOT NULL,
		permissionType VARCHAR(16) NOT NULL,
		PRIMARY KEY (summaryId, userId),
		FOREIGN KEY (summaryId) REFERENCES Summary(id),
		FOREIGN KEY (userId) REFERENCES User(id)
	)`,
	`CREATE TABLE IF NOT EXISTS Event (
		id INT AUTO_INCREMENT PRIMARY KEY,
		userId INT NOT NULL,
		event_title VARCHAR(255) NOT NULL,
		event_date DATETIME NOT NULL,
		createTime DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (userId) REFERENCES User(id)
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		source_summary_id INT NOT NULL,
		target_summary_id INT NOT NULL,
		link_text VARCHAR(191) NOT NULL,
		FOREIGN KEY (source_summary_id) REFERENCES Summary(id),
		FOREIGN KEY (target_summary_id) REFERENCES Summary(id)
	)`,
}

func (s *MySQL) ensureSchema() error {
	for _, stmt := range schema {
		_, err := s.db.Exec(stmt)
		if err != nil {
			return err
		}
	}
	return nil
}

// isDuplicate reports a MySQL unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

//
// accounts
//

func (s *MySQL) Salt(username string) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRow("SELECT salt FROM User WHERE username = ?",
		username).Scan(&salt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return salt, nil
}

func (s *MySQL) Authenticate(username, passHash string) (*User, error) {
	var u User
	err := s.db.QueryRow("SELECT id, username, hashedPass, salt, "+
		"isPublic, createTime FROM User WHERE username = ? AND "+
		"hashedPass = ?", username, passHash).
		Scan(&u.ID, &u.Username, &u.HashedPass, &u.Salt, &u.IsPublic,
			&u.CreateTime)
	if err == sql.ErrNoRows {
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MySQL) InsertUser(username, passHash string, salt []byte) (int64, error) {
	res, err := s.db.Exec("INSERT INTO User (username, hashedPass, salt) "+
		"VALUES (?, ?, ?)", username, passHash, salt)
	if isDuplicate(err) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *MySQL) UserByName(username string) (*User, error) {
	var u User
	err := s.db.QueryRow("SELECT id, username, hashedPass, salt, "+
		"isPublic, createTime FROM User WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.HashedPass, &u.Salt, &u.IsPublic,
			&u.CreateTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

//
// summaries
//

func (s *MySQL) InsertSummary(title, content string, ownerID int64, font string) (int64, error) {
	path := uniquePath(filepath.Join(s.dataDir, strconv.FormatInt(ownerID, 10)),
		SafeTitle(title), ".md")
	err := writeFileAtomic(path, []byte(content))
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO Summary (ownerId, shareLink, "+
		"path_to_summary, font) VALUES (?, ?, ?, ?)",
		ownerID, title, path, font)
	if isDuplicate(err) {
		os.Remove(path)
		return 0, ErrExists
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	sid, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	err = s.rewriteLinks(tx, sid, content)
	if err != nil {
		return 0, err
	}
	return sid, tx.Commit()
}

func (s *MySQL) summaryPath(sid int64) (string, error) {
	var path string
	err := s.db.QueryRow("SELECT path_to_summary FROM Summary WHERE id = ?",
		sid).Scan(&path)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *MySQL) SaveSummary(sid int64, content string) error {
	path, err := s.summaryPath(sid)
	if err != nil {
		return err
	}
	err = writeFileAtomic(path, []byte(content))
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec("UPDATE Summary SET updateTime = ? WHERE id = ?",
		time.Now(), sid)
	if err != nil {
		return err
	}
	err = s.rewriteLinks(tx, sid, content)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *MySQL) SummaryContent(sid int64) (string, error) {
	path, err := s.summaryPath(sid)
	if err != nil {
		return "", err
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func (s *MySQL) UpdateSummaryMeta(sid int64, font string) error {
	// snapshot before the metadata changes so history reflects the
	// document as it was
	err := s.snapshotHistoric(sid)
	if err != nil && err != ErrNotFound {
		return err
	}
	res, err := s.db.Exec("UPDATE Summary SET font = ?, updateTime = ? "+
		"WHERE id = ?", font, time.Now(), sid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *MySQL) scanSummaries(rows *sql.Rows) ([]wire.Summary, error) {
	defer rows.Close()
	var out []wire.Summary
	for rows.Next() {
		var sm wire.Summary
		err := rows.Scan(&sm.ID, &sm.OwnerID, &sm.ShareLink, &sm.Path,
			&sm.Font, &sm.CreateTime, &sm.UpdateTime)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

const summaryCols = "id, ownerId, shareLink, path_to_summary, font, " +
	"createTime, updateTime"

func (s *MySQL) Summary(sid int64) (*wire.Summary, error) {
	var sm wire.Summary
	err := s.db.QueryRow("SELECT "+summaryCols+" FROM Summary WHERE id = ?",
		sid).Scan(&sm.ID, &sm.OwnerID, &sm.ShareLink, &sm.Path, &sm.Font,
		&sm.CreateTime, &sm.UpdateTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *MySQL) SummaryByLink(title string) (*wire.Summary, error) {
	var sm wire.Summary
	err := s.db.QueryRow("SELECT "+summaryCols+" FROM Summary WHERE "+
		"LOWER(shareLink) = LOWER(?)", title).
		Scan(&sm.ID, &sm.OwnerID, &sm.ShareLink, &sm.Path, &sm.Font,
			&sm.CreateTime, &sm.UpdateTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *MySQL) DeleteSummary(sid int64) error {
	path, err := s.summaryPath(sid)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM links WHERE source_summary_id = ?",
		"DELETE FROM links WHERE target_summary_id = ?",
		"DELETE FROM permission WHERE summaryId = ?",
		"DELETE FROM Summary WHERE id = ?",
	} {
		_, err = tx.Exec(stmt, sid)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	os.Remove(path)
	return nil
}

func (s *MySQL) AllByUser(userID int64) ([]wire.Summary, error) {
	rows, err := s.db.Query("SELECT "+summaryCols+" FROM Summary WHERE "+
		"ownerId = ? ORDER BY updateTime DESC", userID)
	if err != nil {
		return nil, err
	}
	return s.scanSummaries(rows)
}

func (s *MySQL) AllUserCanAccess(userID int64) ([]wire.Summary, error) {
	rows, err := s.db.Query("SELECT "+summaryCols+" FROM Summary WHERE "+
		"ownerId = ? UNION SELECT s.id, s.ownerId, s.shareLink, "+
		"s.path_to_summary, s.font, s.createTime, s.updateTime FROM "+
		"Summary s JOIN permission p ON p.summaryId = s.id WHERE "+
		"p.userId = ?", userID, userID)
	if err != nil {
		return nil, err
	}
	return s.scanSummaries(rows)
}

//
// permissions
//

func (s *MySQL) ShareSummary(sid, ownerID, targetUserID int64, kind string) error {
	if kind != wire.PermView && kind != wire.PermEdit {
		return ErrBadInput
	}
	sm, err := s.Summary(sid)
	if err != nil {
		return err
	}
	if sm.OwnerID != ownerID {
		return ErrPermission
	}
	_, err = s.db.Exec("INSERT INTO permission (summaryId, userId, "+
		"permissionType) VALUES (?, ?, ?)", sid, targetUserID, kind)
	if isDuplicate(err) {
		return s.UpdatePermission(sid, targetUserID, kind)
	}
	return err
}

func (s *MySQL) UpdatePermission(sid, userID int64, kind string) error {
	if kind != wire.PermView && kind != wire.PermEdit {
		return ErrBadInput
	}
	res, err := s.db.Exec("UPDATE permission SET permissionType = ? WHERE "+
		"summaryId = ? AND userId = ?", kind, sid, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *MySQL) CanAccess(sid, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM Summary WHERE id = ? AND "+
		"ownerId = ?", sid, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	err = s.db.QueryRow("SELECT COUNT(*) FROM permission WHERE "+
		"summaryId = ? AND userId = ?", sid, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

//
// events
//

func (s *MySQL) InsertEvent(userID int64, title string, date time.Time) (int64, error) {
	res, err := s.db.Exec("INSERT INTO Event (userId, event_title, "+
		"event_date) VALUES (?, ?, ?)", userID, title, date)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *MySQL) scanEvents(rows *sql.Rows) ([]wire.Event, error) {
	defer rows.Close()
	var out []wire.Event
	for rows.Next() {
		var ev wire.Event
		err := rows.Scan(&ev.ID, &ev.UserID, &ev.Title, &ev.EventDate,
			&ev.CreateTime)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *MySQL) Events(userID int64) ([]wire.Event, error) {
	rows, err := s.db.Query("SELECT id, userId, event_title, event_date, "+
		"createTime FROM Event WHERE userId = ? ORDER BY event_date",
		userID)
	if err != nil {
		return nil, err
	}
	return s.scanEvents(rows)
}

func (s *MySQL) UpdateEvent(userID, eventID int64, title string, date time.Time) error {
	res, err := s.db.Exec("UPDATE Event SET event_title = ?, "+
		"event_date = ? WHERE id = ? AND userId = ?",
		title, date, eventID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *MySQL) DeleteEvent(userID, eventID int64) error {
	res, err := s.db.Exec("DELETE FROM Event WHERE id = ? AND userId = ?",
		eventID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *MySQL) UpcomingEvents(userID int64, within time.Duration) ([]wire.Event, error) {
	now := time.Now()
	rows, err := s.db.Query("SELECT id, userId, event_title, event_date, "+
		"createTime FROM Event WHERE userId = ? AND event_date >= ? AND "+
		"event_date <= ? ORDER BY event_date",
		userID, now, now.Add(within))
	if err != nil {
		return nil, err
	}
	return s.scanEvents(rows)
}
