package model

import "time"

// Document collections.
const (
	CollectionFolders     = "folders"
	CollectionFiles       = "files"
	CollectionFileChunks  = "fileChunks"
	CollectionThumbnails  = "thumbnails"
	CollectionUserAuth    = "userAuth"
	CollectionDriveTokens = "driveTokens"
)

// Item types.
const (
	TypeFolder = "folder"
	TypeFile   = "file"
)

// AuthProperties is the unlocked key hierarchy. It only ever lives in memory.
type AuthProperties struct {
	BucketID     string
	FileKey      []byte
	MetadataKey  []byte
	ThumbnailKey []byte
	Salt         []byte
}

// UserAuthRecord is the persisted, wrapped form of AuthProperties. Key fields
// are base64 of the key wrapped under the password key.
type UserAuthRecord struct {
	ID           string `json:"id" dynamodbav:"id"`
	FileKey      string `json:"fileKey" dynamodbav:"fileKey"`
	MetadataKey  string `json:"metadataKey" dynamodbav:"metadataKey"`
	ThumbnailKey string `json:"thumbnailKey" dynamodbav:"thumbnailKey"`
	Salt         string `json:"salt" dynamodbav:"salt"`
	BucketID     string `json:"bucketId" dynamodbav:"bucketId"`
}

// FolderMetadata is the plaintext form of a folder's encrypted metadata.
type FolderMetadata struct {
	Name string `json:"name"`
}

// FileMetadata is the plaintext form of a file's encrypted metadata.
type FileMetadata struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Folder is a decrypted folder. FolderID is the parent; "" is the root.
type Folder struct {
	ID           string         `json:"id"`
	FolderID     string         `json:"folderId"`
	Metadata     FolderMetadata `json:"metadata"`
	OwnerID      string         `json:"ownerId"`
	CreationTime time.Time      `json:"creationTime"`
	Type         string         `json:"type"`
}

// FolderDocument is a folder as stored; Metadata is base64 ciphertext.
type FolderDocument struct {
	ID           string    `json:"id" dynamodbav:"id"`
	FolderID     string    `json:"folderId" dynamodbav:"folderId"`
	Metadata     string    `json:"metadata" dynamodbav:"metadata"`
	OwnerID      string    `json:"ownerId" dynamodbav:"ownerId"`
	CreationTime time.Time `json:"creationTime" dynamodbav:"creationTime"`
	Type         string    `json:"type" dynamodbav:"type"`
}

// FileEntity is a decrypted file record.
type FileEntity struct {
	ID           string       `json:"id"`
	FolderID     string       `json:"folderId"`
	Metadata     FileMetadata `json:"metadata"`
	HasThumbnail bool         `json:"hasThumbnail"`
	OwnerID      string       `json:"ownerId"`
	CreationTime time.Time    `json:"creationTime"`
	Type         string       `json:"type"`
}

// FileDocument is a file as stored; Metadata is base64 ciphertext.
type FileDocument struct {
	ID           string    `json:"id" dynamodbav:"id"`
	FolderID     string    `json:"folderId" dynamodbav:"folderId"`
	Metadata     string    `json:"metadata" dynamodbav:"metadata"`
	HasThumbnail bool      `json:"hasThumbnail" dynamodbav:"hasThumbnail"`
	OwnerID      string    `json:"ownerId" dynamodbav:"ownerId"`
	CreationTime time.Time `json:"creationTime" dynamodbav:"creationTime"`
	Type         string    `json:"type" dynamodbav:"type"`
}

// FileChunkKey links one ciphertext blob to its wrapped chunk key.
type FileChunkKey struct {
	ID  string `json:"id" dynamodbav:"id"`
	Key string `json:"key" dynamodbav:"key"`
}

// FileChunksDocument lists a file's chunks in byte order. It is the only
// durable link between a file and its blobs.
type FileChunksDocument struct {
	ID     string         `json:"id" dynamodbav:"id"`
	Chunks []FileChunkKey `json:"chunks" dynamodbav:"chunks"`
}

// ThumbnailRecord holds a data-URI encrypted under the thumbnail key.
type ThumbnailRecord struct {
	ID   string `json:"id" dynamodbav:"id"`
	Data string `json:"data" dynamodbav:"data"`
}

// DriveToken is the user's Google OAuth refresh token, encrypted at rest.
type DriveToken struct {
	ID                    string    `json:"id" dynamodbav:"id"`
	EncryptedRefreshToken string    `json:"encryptedRefreshToken" dynamodbav:"encryptedRefreshToken"`
	UpdatedAt             time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// AccountLease is a short-lived exclusive lease on an account.
type AccountLease struct {
	AccountID string `json:"account_id" dynamodbav:"account_id"`
	HolderID  string `json:"holder_id" dynamodbav:"holder_id"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
