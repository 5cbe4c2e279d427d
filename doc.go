// Package piifield stores personally identifying field values (names, emails,
// birth dates) only in encrypted form while still allowing exact-match lookup
// and uniqueness checks through blind indexes.
//
// # Keys
//
// Two independent 32-byte keys are loaded once at process start: the
// encryption key (FieldCipher) and the index key (BlindIndexer). They are
// never derived from each other, and NewKeys refuses equal keys.
//
//	keys, err := piifield.LoadKeysFromEnv() // PIIFIELD_ENCRYPTION_KEY, PIIFIELD_INDEX_KEY (hex)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Encryption
//
// Each value is sealed with AES-256-GCM (or XChaCha20-Poly1305) under a fresh
// random IV. Ciphertext and IV go to two columns and are always written
// together. Tampering with either fails authentication with ErrIntegrity.
//
// # Searchable Fields
//
// Searchable fields additionally get a digest column holding
// HMAC-SHA256(index key, normalized value), hex encoded. The default
// normalization trims and lowercases, so lookups are case-insensitive.
//
//	reg, _ := piifield.NewRegistry("patient", "patients",
//	    piifield.FieldSpec{Name: "email", Unique: true, Normalizer: piifield.NormalizeEmail},
//	    piifield.FieldSpec{Name: "birth_date"},
//	)
//
//	engine, _ := piifield.NewEngine(keys)
//	rec := engine.NewRecord(reg)
//	_ = rec.Set("email", "A@Example.com")
//	_ = rec.BeforePersist()  // encrypts, computes digests
//	row := rec.Columns()     // hand to the persistence layer
//
//	found, err := engine.FindByStrict(ctx, store, reg, "email", " a@example.com")
//
// # Column Guard
//
// Lookups take a field name, never a column name. Registry.AssertSearchable
// resolves it to an opaque Column or fails with ErrFieldNotSearchable before
// any query is built. Finder implementations only ever see guarded columns.
//
// # Database Schema
//
// Recommended column structure per encrypted field:
//
//	-- Non-searchable encrypted field
//	birth_date_ciphertext BLOB
//	birth_date_iv         BLOB
//
//	-- Searchable encrypted field
//	email_ciphertext BLOB
//	email_iv         BLOB
//	email_digest     TEXT
//	CREATE UNIQUE INDEX idx_patients_email_digest ON patients (email_digest);
//
// The sqlstore package implements this layout on SQLite.
package piifield
