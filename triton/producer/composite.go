package producer

import "context"

// Composite wraps an ordered list of backend-bound Streams and fans
// out publication to all of them. This is a best-effort multicast:
// if any child fails, the first failure propagates and earlier,
// already-successful children are not rolled back. Downstream
// consumers of one backend may observe records that never appear in
// another (spec.md §4.5).
type Composite struct {
	children []*Stream
}

// NewComposite wraps children in fan-out order. PutMany invokes each
// child in this order and stops at the first error.
func NewComposite(children ...*Stream) *Composite {
	return &Composite{children: children}
}

// PutMany invokes PutMany on each child stream in order, returning one
// result slice per child (results[i] belongs to child i and stays nil
// for children never invoked) and the first error encountered. Children
// after a failing one are never invoked; children before it keep
// whatever they already wrote.
func (c *Composite) PutMany(ctx context.Context, records []map[string]interface{}) ([][]Result, error) {
	var results = make([][]Result, len(c.children))
	for i, child := range c.children {
		r, err := child.PutMany(ctx, records)
		results[i] = r
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
