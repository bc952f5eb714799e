package registry

// Registry mirrors instance snapshots into a shared store so pollers in
// other processes can watch readiness without reaching into a working
// directory they may not share.
type Registry interface {
	Get(name string) (snapshot string, err error)
	Set(name string, snapshot string) (err error)
	Delete(name string) (err error)
	List() (names []string, err error)
}
