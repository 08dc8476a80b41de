package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/tree"
	"github.com/jun/gophvault/internal/workspace"
	"github.com/sirupsen/logrus"
)

// FolderHandler serves the folder tree of the caller's vault.
type FolderHandler struct {
	registry  *workspace.Registry
	jwtSecret string
	log       *logrus.Entry
}

func NewFolderHandler(registry *workspace.Registry, jwtSecret string, log *logrus.Entry) *FolderHandler {
	return &FolderHandler{
		registry:  registry,
		jwtSecret: jwtSecret,
		log:       logging.OrDiscard(log).WithField("component", "folder_handler"),
	}
}

type listing struct {
	Path    []model.Folder     `json:"path"`
	Folders []model.Folder     `json:"folders"`
	Files   []model.FileEntity `json:"files"`
}

// List returns the decrypted contents of the folderId query parameter
// (the root when empty) and the path leading to it.
func (h *FolderHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	folderID := req.QueryStringParameters["folderId"]

	path, err := ws.Folders.PathTo(ctx, folderID)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	folders, err := ws.Folders.List(ctx, folderID)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	files, err := ws.Files.List(ctx, folderID)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusOK, listing{Path: path, Folders: folders, Files: files}), nil
}

func (h *FolderHandler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		Name     string `json:"name"`
		ParentID string `json:"parentId"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}

	folder, err := ws.Folders.Create(ctx, in.Name, in.ParentID)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusCreated, folder), nil
}

func (h *FolderHandler) Rename(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}

	folder, err := ws.Folders.Rename(ctx, id, in.Name)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	return jsonResponse(http.StatusOK, folder), nil
}

// Move reparents the folder under targetId ("" is the root).
func (h *FolderHandler) Move(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}

	var in struct {
		TargetID string `json:"targetId"`
	}
	if err := decodeBody(req, &in); err != nil {
		return errorResponse(h.log, err), nil
	}

	folder, err := ws.Folders.Get(ctx, id)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	item := tree.Item{ID: folder.ID, FolderID: folder.FolderID, Type: model.TypeFolder}
	if err := ws.Folders.Move(ctx, []tree.Item{item}, in.TargetID); err != nil {
		return errorResponse(h.log, err), nil
	}
	return noContent(), nil
}

// Delete removes the folder with everything below it.
func (h *FolderHandler) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ws, id, err := h.target(req)
	if err != nil {
		return errorResponse(h.log, err), nil
	}
	if err := ws.Folders.RecursiveDelete(ctx, id); err != nil {
		return errorResponse(h.log, err), nil
	}
	return noContent(), nil
}

func (h *FolderHandler) target(req events.APIGatewayProxyRequest) (*workspace.Workspace, string, error) {
	ws, err := currentWorkspace(req, h.registry, h.jwtSecret)
	if err != nil {
		return nil, "", err
	}
	id := req.PathParameters["id"]
	if id == "" {
		return nil, "", fmt.Errorf("%w: missing folder ID", ErrBadRequest)
	}
	return ws, id, nil
}
