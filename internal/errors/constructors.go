package errors

// Convenience constructors for common error patterns

// Config errors

func ConfigNotFound(path string) *PreviewError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PreviewError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *PreviewError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Sandbox errors

func SandboxBootError(cause error) *PreviewError {
	return Wrap(cause, CategorySandbox, SeverityFatal, "sandbox boot failed")
}

func SandboxKillError(sandboxID string, cause error) *PreviewError {
	return Wrap(cause, CategorySandbox, SeverityWarning, "sandbox teardown failed").
		WithContext("sandbox_id", sandboxID)
}

// Pipeline stage errors

func SyncError(cause error) *PreviewError {
	return Wrap(cause, CategorySync, SeverityFatal, "sync error")
}

func InstallError(command string, cause error) *PreviewError {
	return Wrap(cause, CategoryInstall, SeverityFatal, "dependency install failed").
		WithContext("command", command)
}

func RuntimeStartError(cause error) *PreviewError {
	return Wrap(cause, CategoryRuntime, SeverityFatal, "dev server start failed")
}

// Infrastructure errors

func EventStoreError(message string) *PreviewError {
	return New(CategoryEventStore, SeverityError, message)
}

func SourceError(path string, cause error) *PreviewError {
	return Wrap(cause, CategorySource, SeverityFatal, "file-set source error").
		WithContext("path", path)
}

func DaemonError(message string) *PreviewError {
	return New(CategoryDaemon, SeverityError, message)
}
