// Package pmem maps files on persistent memory and provides durability
// aware copy routines and an asynchronous operation interface over them.
//
// A Map is obtained with MapFile. Writes through the map's copy routines
// (CopyFn, MoveFn) are made durable automatically according to the
// mapping's store granularity; direct writes to Bytes become durable
// after Persist.
//
// The asynchronous entry points MemcpyAsync and MemmoveAsync return a
// future that is driven by polling:
//
//	f, err := m.MemcpyAsync(dst, src, 0)
//	if err != nil {
//		return err
//	}
//	out, err := f.Wait(ctx)
//
// Operations execute eagerly on a synchronous data mover but honor the
// full asynchronous contract from the vdm package, including the memory
// ordering an offloaded backend would provide: a goroutine that observes
// completion also observes the copied data.
//
// Snapshots of a mapped region can be written to and restored from any
// blobstore.BlobStore, compressed with a codec from the codec package.
package pmem
