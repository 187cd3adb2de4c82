// Command stickercreds manages the platform credentials used by
// sticker-convert uploads and downloads.
//
// Usage:
//
//	stickercreds <command> [arguments]
//
// Commands:
//
//	set <platform> <key> [value]
//	        Store a credential. Without a value it is read from the
//	        terminal without echo.
//
//	get <platform> <key>
//	        Print a credential value.
//
//	list [platform]
//	        List stored credentials without their values.
//
//	delete <platform> [key]
//	        Remove one credential, or all credentials of a platform.
//
// Credentials used by the built in clients:
//
//	telegram  token, user_id
//	signal    uuid, password
//	discord   token
//
// Environment:
//
//	STICKER_DATABASE_DIR - directory of the SQLite database
//	STICKER_DATABASE_URL - Postgres connection string, used instead of SQLite
//	STICKER_PASSPHRASE   - seals stored values when set
//
// Values written with a passphrase can only be read back with the same
// passphrase.
package main
