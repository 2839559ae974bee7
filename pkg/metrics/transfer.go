package metrics

// TransferMetrics observes the file and share pipeline. Pass nil to
// disable.
type TransferMetrics interface {
	// RecordUpload records one completed upload and its size.
	RecordUpload(bytes int64)

	// RecordDownload records one completed download and the bytes actually
	// sent, which may be less than the file size on aborted streams.
	RecordDownload(bytes int64)

	// RecordShareAccess records one share-link access attempt by outcome
	// ("success" or the access-log error code).
	RecordShareAccess(outcome string)
}
