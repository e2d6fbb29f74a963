/*
Package database manages the GORM connection pool behind the router's
relational store (users, API keys, agent token records).

PoolManager wraps gorm.DB and database/sql pool settings — max open/idle
connections, lifetime, idle recycling — and runs a background health
check that pings the database and logs (never kills the process) when it
degrades. Statements against router.db are short; the pool exists to
bound concurrency, not to hide latency.
*/
package database
