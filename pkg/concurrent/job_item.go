package concurrent

// TileJobItem asks a worker to load one elevation tile.
type TileJobItem struct {
	Name string
	Path string
}

type JobI interface {
	TileJobItem
}

type Job[T JobI] struct {
	ID      int
	JobItem T
}

type JobFunc[T JobI, G any] func(job T) G
