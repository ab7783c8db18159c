// Package exporter writes persisted progress history as CSV or XLSX.
//
// A Table is built from stored operations (OperationsTable) or from the
// recorded events of one operation (HistoryTable) and written with Write:
//
//	table := exporter.HistoryTable(id, events)
//	err := exporter.Write(w, exporter.FormatXLSX, table)
//
// CSV output starts with a UTF-8 BOM so spreadsheet tools pick the right
// encoding. XLSX output carries one sheet with a bold, frozen header row.
package exporter
