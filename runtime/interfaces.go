package runtime

// ProcedureLoader builds procedures from declaration files.
type ProcedureLoader interface {
	// Load reads the file at path and returns the procedure it declares.
	Load(path string) (*Procedure, error)
	// Extensions lists the file extensions the loader understands, with the
	// leading dot.
	Extensions() []string
}
