/*
Package migration provides versioned schema management for the router's
relational store, built on golang-migrate with per-dialect SQL files
embedded via embed.FS (postgres, mysql, sqlite).

A failed migration at startup is fatal; the migrate CLI subcommands (up,
down, status, goto, force, reset) exist for operators to intervene.
*/
package migration
