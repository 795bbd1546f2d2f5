package engine

import (
	"regexp"
	"time"
)

// Archive timestamp layouts. The main archive and the database
// companion deliberately use different layouts; both are parsed by
// pattern in several places and must never drift.
const (
	backupTimestampLayout = "01.02.2006_15-04-05"
	dbTimestampLayout     = "2006-01-02_15-04-05"
)

var backupFilenamePattern = regexp.MustCompile(
	`^backup-(\d{2}\.\d{2}\.\d{4}_\d{2}-\d{2}-\d{2})_(.+)\.tar\.gz$`)

// BackupFilename builds the canonical archive name for an account
func BackupFilename(account string, t time.Time) string {
	return "backup-" + t.Format(backupTimestampLayout) + "_" + account + ".tar.gz"
}

// DBBackupFilename builds the companion database archive name
func DBBackupFilename(account string, t time.Time) string {
	return "db-backup-" + account + "_" + t.Format(dbTimestampLayout) + ".tar.gz"
}

// ParseBackupFilename extracts the account name and timestamp from a
// canonical archive filename. Non-matching names fail with
// UnparsableFilename before any retrieval work is attempted.
func ParseBackupFilename(name string) (account string, t time.Time, err error) {
	match := backupFilenamePattern.FindStringSubmatch(name)
	if match == nil {
		return "", time.Time{}, newError(CodeUnparsableFilename,
			"filename %q does not match the backup naming pattern", name)
	}

	t, parseErr := time.Parse(backupTimestampLayout, match[1])
	if parseErr != nil {
		return "", time.Time{}, newError(CodeUnparsableFilename,
			"filename %q carries an invalid timestamp", name)
	}

	return match[2], t, nil
}

// CompanionDBFilename derives the database archive name that a backup
// run would have produced alongside the given main archive.
func CompanionDBFilename(backupName string) (string, error) {
	account, t, err := ParseBackupFilename(backupName)
	if err != nil {
		return "", err
	}
	return DBBackupFilename(account, t), nil
}
