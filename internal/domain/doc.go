// Package domain holds the core entity types shared across the filtering and
// analytics pipeline. Types here are plain data; behavior lives in the
// component packages that own each table.
package domain
