package remote

import "path"

// Remote layout, scoped per user:
//
//	users/{uid}/items/{itemId}            realtime store record
//	users/{uid}/item-images/{name}.jpg    blob (image/jpeg)

// ItemsPath returns the path of a user's items collection.
func ItemsPath(uid string) string {
	return path.Join("users", uid, "items")
}

// ItemPath returns the path of a single item record.
func ItemPath(uid, itemID string) string {
	return path.Join(ItemsPath(uid), itemID)
}

// ImagesPrefix returns the path of a user's image blob container.
func ImagesPrefix(uid string) string {
	return path.Join("users", uid, "item-images")
}

// ImagePath returns the blob path for a named image in the user's
// container.
func ImagePath(uid, name string) string {
	return path.Join(ImagesPrefix(uid), name)
}
