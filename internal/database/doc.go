// Package database builds PostgreSQL connection pools for the change journal.
package database
